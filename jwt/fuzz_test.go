package jwt

import (
	"testing"
	"time"
)

func FuzzParseAccess(f *testing.F) {
	pub, priv := newEdKeys(f)
	m := mustManager(f, Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "fuzz",
		Leeway:        30 * time.Second,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	valid, err := m.CreateAccess("uid1", "rid1", "public", "sid1", map[string]any{"st-mfa": map[string]any{"v": true}})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.ParseAccess(input)
		if err == nil && (claims == nil || claims.Subject == "") {
			t.Fatalf("accepted token without identity: %q", input)
		}
	})
}
