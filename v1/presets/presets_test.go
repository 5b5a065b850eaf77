package presets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"

	"github.com/mirkobrombin/go-warden/v1/config"
	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
)

const secret = "0123456789abcdef"

func memoryDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

func exercise(t *testing.T, st *Stack) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.Accounts.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first, err := st.Accounts.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := st.Accounts.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := st.Accounts.Authenticate(ctx, first); !errors.Is(err, warderrors.ErrUnauthenticated) {
		t.Fatalf("first session should be revoked, got %v", err)
	}
	actx, _, err := st.Accounts.Authenticate(ctx, second)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p, err := st.Accounts.CurrentUser(actx); err != nil || p.Account != "alice" {
		t.Fatalf("CurrentUser: %+v err %v", p, err)
	}
}

func TestNewStandalone(t *testing.T) {
	db, err := OpenDB(memoryDSN(t))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	st, err := NewStandalone(db, secret)
	if err != nil {
		t.Fatalf("NewStandalone: %v", err)
	}
	defer st.Close()
	exercise(t, st)
}

func TestNewPersistentKeepsSessionsAcrossRestarts(t *testing.T) {
	cfg, err := config.FromMap(map[string]string{
		"HASHER_SECRET": secret,
		"DATABASE_DSN":  "file:" + filepath.Join(t.TempDir(), "warden.db"),
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	st, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exercise(t, st)
	token, err := st.Accounts.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if _, _, err := st.Accounts.Authenticate(ctx, token); err != nil {
		t.Fatalf("session lost across restart: %v", err)
	}
}

func TestNewRedis(t *testing.T) {
	for _, bus := range []config.Bus{config.BusMemory, config.BusRedis, config.BusNATS} {
		t.Run(string(bus), func(t *testing.T) {
			mr := miniredis.RunT(t)
			vars := map[string]string{
				"HASHER_SECRET": secret,
				"REDIS_ADDR":    mr.Addr(),
				"DATABASE_DSN":  memoryDSN(t),
				"BUS":           string(bus),
			}
			if bus == config.BusNATS {
				s := natsserver.RunRandClientPortServer()
				t.Cleanup(s.Shutdown)
				vars["NATS_URL"] = s.ClientURL()
			}
			cfg, err := config.FromMap(vars)
			if err != nil {
				t.Fatalf("config: %v", err)
			}
			st, err := New(context.Background(), cfg, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer st.Close()
			if st.Redis == nil {
				t.Fatal("expected redis client")
			}
			exercise(t, st)
		})
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	cfg, err := config.FromMap(map[string]string{
		"HASHER_SECRET":    secret,
		"REDIS_ADDR":       "127.0.0.1:1",
		"DATABASE_DSN":     memoryDSN(t),
		"STORE_OP_TIMEOUT": "200ms",
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected ping failure")
	}
}
