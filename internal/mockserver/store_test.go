package mockserver

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	ncerr "authclient/internal/errors"
)

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(bcrypt.MinCost))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "accounts.db"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

var ada = Account{UserID: "S20230001", UserName: "Ada", Role: "student"}

func TestStore_AddVerify(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Add(ctx, ada, "initial-pw"); err != nil {
			t.Fatalf("Add: %v", err)
		}

		got, err := s.Verify(ctx, ada.UserID, "initial-pw")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if got != ada {
			t.Errorf("got %+v, want %+v", got, ada)
		}

		if _, err := s.Verify(ctx, ada.UserID, "wrong-pw"); !errors.Is(err, ncerr.ErrInvalidCredential) {
			t.Errorf("wrong password: got %v", err)
		}
		if _, err := s.Verify(ctx, "nobody", "initial-pw"); !errors.Is(err, ncerr.ErrInvalidCredential) {
			t.Errorf("unknown id: got %v", err)
		}
	})
}

func TestStore_Duplicate(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Add(ctx, ada, "initial-pw"); err != nil {
			t.Fatal(err)
		}
		if err := s.Add(ctx, ada, "other-pw"); !errors.Is(err, ncerr.ErrDuplicateAccount) {
			t.Fatalf("got %v, want ErrDuplicateAccount", err)
		}
		// The original credential is untouched.
		if _, err := s.Verify(ctx, ada.UserID, "initial-pw"); err != nil {
			t.Errorf("Verify after duplicate: %v", err)
		}
	})
}

func TestStore_SetPassword(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Add(ctx, ada, "initial-pw"); err != nil {
			t.Fatal(err)
		}
		if err := s.SetPassword(ctx, ada.UserID, "changed-pw"); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
		if _, err := s.Verify(ctx, ada.UserID, "initial-pw"); err == nil {
			t.Error("old password still accepted")
		}
		if _, err := s.Verify(ctx, ada.UserID, "changed-pw"); err != nil {
			t.Errorf("new password rejected: %v", err)
		}

		if err := s.SetPassword(ctx, ada.UserID, "short"); !errors.Is(err, ncerr.ErrPasswordRejected) {
			t.Errorf("short password: got %v", err)
		}
		long := strings.Repeat("p", MaxPasswordBytes+1)
		if err := s.SetPassword(ctx, ada.UserID, long); !errors.Is(err, ncerr.ErrPasswordRejected) {
			t.Errorf("long password: got %v", err)
		}
		if err := s.SetPassword(ctx, ada.UserID, long[:MaxPasswordBytes]); err != nil {
			t.Errorf("%d-byte password: %v", MaxPasswordBytes, err)
		}
		if err := s.SetPassword(ctx, "nobody", "whatever-pw"); !errors.Is(err, ncerr.ErrUnknownAccount) {
			t.Errorf("unknown id: got %v", err)
		}
	})
}

func TestStore_Lookup(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Lookup(ctx, ada.UserID); !errors.Is(err, ncerr.ErrUnknownAccount) {
			t.Fatalf("got %v, want ErrUnknownAccount", err)
		}
		if err := s.Add(ctx, ada, "initial-pw"); err != nil {
			t.Fatal(err)
		}
		got, err := s.Lookup(ctx, ada.UserID)
		if err != nil || got != ada {
			t.Errorf("Lookup = %+v, %v", got, err)
		}
	})
}

func TestSeed_SkipsExisting(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		creds := []Credential{{Account: ada, Password: "initial-pw"}}
		if err := Seed(ctx, s, creds...); err != nil {
			t.Fatalf("first seed: %v", err)
		}
		if err := Seed(ctx, s, creds...); err != nil {
			t.Fatalf("second seed: %v", err)
		}
		if err := Seed(ctx, s, Credential{Account: Account{UserID: "x"}, Password: "123"}); !errors.Is(err, ncerr.ErrPasswordRejected) {
			t.Errorf("weak seed: got %v", err)
		}
	})
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.db")
	ctx := context.Background()

	s, err := OpenSQLite(path, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, ada, "initial-pw"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(path, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Verify(ctx, ada.UserID, "initial-pw"); err != nil {
		t.Errorf("Verify after reopen: %v", err)
	}
}
