package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/jvreagan/cloud-ship/pkg/vault"
)

func TestStatic(t *testing.T) {
	tok, err := Static("  csk_live  ").Token(context.Background())
	if err != nil || tok != "csk_live" {
		t.Fatalf("Token() = %q, %v", tok, err)
	}
	if _, err := Static("").Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty token err = %v, want ErrNoToken", err)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	store := NewFileStore(path)
	ctx := context.Background()

	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("missing file err = %v, want ErrNoToken", err)
	}

	if err := store.Save("csk_abc", "https://api.example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	tok, err := store.Token(ctx)
	if err != nil || tok != "csk_abc" {
		t.Fatalf("Token() = %q, %v", tok, err)
	}

	if err := store.Invalidate(); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("after Invalidate err = %v, want ErrNoToken", err)
	}
	url, err := store.APIURL()
	if err != nil || url != "https://api.example.com" {
		t.Errorf("APIURL() = %q, %v; want preserved after Invalidate", url, err)
	}

	if err := store.Save("   ", ""); !errors.Is(err, ErrNoToken) {
		t.Errorf("Save blank err = %v, want ErrNoToken", err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte("token: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path).Token(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to parse credentials file") {
		t.Fatalf("err = %v", err)
	}
}

type fakeSecrets struct {
	value *string
	err   error
	asked string
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.ToString(in.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestSecretsManagerSource(t *testing.T) {
	tests := []struct {
		name     string
		value    *string
		key      string
		err      error
		want     string
		errorMsg string
	}{
		{name: "plain string", value: aws.String("csk_plain\n"), want: "csk_plain"},
		{name: "json default key", value: aws.String(`{"token":"csk_json"}`), want: "csk_json"},
		{name: "json custom key", value: aws.String(`{"api":"csk_custom"}`), key: "api", want: "csk_custom"},
		{name: "json missing key", value: aws.String(`{"other":"x"}`), errorMsg: `no string field "token"`},
		{name: "bad json", value: aws.String(`{"token":`), errorMsg: "failed to parse secret JSON"},
		{name: "binary secret", value: nil, errorMsg: "has no string value"},
		{name: "api error", err: errors.New("AccessDeniedException"), errorMsg: "failed to retrieve secret cloud-ship/token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSecrets{value: tt.value, err: tt.err}
			src := &SecretsManagerSource{Client: client, SecretID: "cloud-ship/token", Key: tt.key}

			got, err := src.Token(context.Background())
			if client.asked != "cloud-ship/token" {
				t.Errorf("requested secret %q", client.asked)
			}
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Fatalf("err = %v, want containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Token: %v", err)
			}
			if got != tt.want {
				t.Errorf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewSource(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "credentials.yaml")

	t.Run("environment token", func(t *testing.T) {
		src, inv, err := NewSource(ctx, Config{Token: "csk_env", File: file})
		if err != nil {
			t.Fatal(err)
		}
		if inv != nil {
			t.Error("environment token should not be invalidated")
		}
		if tok, _ := src.Token(ctx); tok != "csk_env" {
			t.Errorf("Token() = %q", tok)
		}
	})

	t.Run("environment falls back to file", func(t *testing.T) {
		src, inv, err := NewSource(ctx, Config{Source: SourceEnvironment, File: file})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := src.(*FileStore); !ok || inv == nil {
			t.Errorf("got %T / %v, want file store with invalidator", src, inv)
		}
	})

	t.Run("file requires path", func(t *testing.T) {
		_, _, err := NewSource(ctx, Config{Source: SourceFile})
		if err == nil || !strings.Contains(err.Error(), "credentials.file is required") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("vault", func(t *testing.T) {
		src, _, err := NewSource(ctx, Config{Source: SourceVault, Vault: vault.Config{Address: "http://127.0.0.1:8200"}})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := src.(*vault.Client); !ok {
			t.Errorf("got %T, want *vault.Client", src)
		}
	})

	t.Run("vault requires address", func(t *testing.T) {
		if _, _, err := NewSource(ctx, Config{Source: SourceVault}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("secrets manager requires secret id", func(t *testing.T) {
		_, _, err := NewSource(ctx, Config{Source: SourceSecretsManager})
		if err == nil || !strings.Contains(err.Error(), "aws.secret_id is required") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := NewSource(ctx, Config{Source: "keychain"})
		if err == nil || !strings.Contains(err.Error(), "unknown credentials source: keychain") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestOAuth2(t *testing.T) {
	ts, err := OAuth2(context.Background(), Static("csk_abc"))
	if err != nil {
		t.Fatalf("OAuth2: %v", err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "csk_abc" || tok.Type() != "Bearer" {
		t.Errorf("token = %+v", tok)
	}

	if _, err := OAuth2(context.Background(), Static("")); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty source err = %v, want ErrNoToken", err)
	}
}
