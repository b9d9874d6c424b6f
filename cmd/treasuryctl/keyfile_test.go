package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/stretchr/testify/require"
)

func TestParseKeyFile(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantSecret []byte
		wantMeta   interfaces.CredentialMetadata
		wantErr    error
		errText    string
	}{
		{
			name:       "bare byte array",
			data:       "[1, 2, 3, 255]",
			wantSecret: []byte{1, 2, 3, 255},
			wantMeta:   interfaces.CredentialMetadata{Label: "HOUSE", Purpose: "house"},
		},
		{
			name:       "object with secretKey string",
			data:       `{"secretKey": "0xabc", "label": "House wallet", "purpose": "payouts", "publicKey": "0x01", "tokenAccount": "0x02"}`,
			wantSecret: []byte("0xabc"),
			wantMeta: interfaces.CredentialMetadata{
				Label:            "House wallet",
				Purpose:          "payouts",
				PublicIdentifier: "0x01",
				TokenAccount:     "0x02",
			},
		},
		{
			name:       "privateKey fallback with description",
			data:       `{"privateKey": [7, 8], "description": "legacy key"}`,
			wantSecret: []byte{7, 8},
			wantMeta:   interfaces.CredentialMetadata{Label: "HOUSE", Purpose: "legacy key"},
		},
		{
			name:       "secretKey wins over privateKey",
			data:       `{"secretKey": "a", "privateKey": "b"}`,
			wantSecret: []byte("a"),
			wantMeta:   interfaces.CredentialMetadata{Label: "HOUSE", Purpose: "house"},
		},
		{
			name:    "no secret",
			data:    `{"label": "x"}`,
			wantErr: errNoSecret,
		},
		{
			name:    "null secret",
			data:    `{"secretKey": null}`,
			wantErr: errNoSecret,
		},
		{
			name:    "empty string secret",
			data:    `{"secretKey": ""}`,
			wantErr: errNoSecret,
		},
		{
			name:    "empty array",
			data:    `[]`,
			wantErr: errNoSecret,
		},
		{
			name:    "byte out of range",
			data:    `[1, 256]`,
			errText: "out of range",
		},
		{
			name:    "secret of wrong type",
			data:    `{"secretKey": 12}`,
			errText: "string or a byte array",
		},
		{
			name:    "not json",
			data:    `secret`,
			errText: "invalid key file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, meta, err := parseKeyFile([]byte(tt.data), interfaces.AccountID("house"))
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				return
			case tt.errText != "":
				require.ErrorContains(t, err, tt.errText)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantSecret, secret)
			require.Equal(t, tt.wantMeta, meta)
		})
	}
}

func TestWalletFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"jackpot-wallet.json", "house-wallet.json", "notes.txt", "-wallet.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[1]"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old-wallet.json"), 0o700))

	files, accounts, err := walletFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []interfaces.AccountID{"house", "jackpot"}, accounts)
	require.Equal(t, filepath.Join(dir, "house-wallet.json"), files["house"])
	require.Len(t, files, 2)

	_, _, err = walletFiles(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
