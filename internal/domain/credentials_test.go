package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"valid", Credentials{Cookie: "ko_token=abcdef123"}, false},
		{"valid with host", Credentials{Cookie: "ko_token=abcdef123", Host: "h5.xiaoeknow.com"}, false},
		{"empty cookie", Credentials{}, true},
		{"no equals", Credentials{Cookie: "abcdefghijklmnop"}, true},
		{"too short", Credentials{Cookie: "a=b"}, true},
		{"host with path", Credentials{Cookie: "ko_token=abcdef123", Host: "h5.xiaoeknow.com/api"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindConfigError, KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCredentials_Fingerprint(t *testing.T) {
	a := Credentials{Cookie: "ko_token=abcdef123", AppID: "app1"}
	b := Credentials{Cookie: "ko_token=abcdef123", AppID: "app1"}
	c := Credentials{Cookie: "ko_token=abcdef123", AppID: "app2"}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestCredentials_Merge(t *testing.T) {
	defaults := Credentials{Cookie: "ko_token=default1", AppID: "appDefault", Host: "h5.xiaoeknow.com"}

	merged := Credentials{Cookie: "ko_token=override"}.Merge(defaults)
	assert.Equal(t, "ko_token=override", merged.Cookie)
	assert.Equal(t, "appDefault", merged.AppID)
	assert.Equal(t, "h5.xiaoeknow.com", merged.Host)

	assert.True(t, Credentials{}.IsZero())
	assert.False(t, merged.IsZero())
}
