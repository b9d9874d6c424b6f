package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/treasury-vault/config"
	"github.com/ruteri/treasury-vault/cryptoutils"
	"github.com/ruteri/treasury-vault/httpserver"
	"github.com/ruteri/treasury-vault/kms"
	"github.com/urfave/cli/v2"
)

var flagAdminPrivkey = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}
var flagServer = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "treasury-server address",
}
var flagAdminID = &cli.StringFlag{
	Name:     "admin-id",
	Required: true,
	Usage:    "admin id as listed in the admin keys file",
}

var masterKeyCommand = &cli.Command{
	Name:  "master-key",
	Usage: "manage the master secret",
	Subcommands: []*cli.Command{
		{
			Name:  "generate",
			Usage: "print a fresh hex master secret",
			Action: func(cCtx *cli.Context) error {
				key := make([]byte, kms.MinMasterKeyLen)
				if _, err := rand.Read(key); err != nil {
					return err
				}
				fmt.Println(hex.EncodeToString(key))
				cryptoutils.WipeBytes(key)
				return nil
			},
		},
		{
			Name:  "split",
			Usage: "split the master secret into one share per admin of --admin-keys-file",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out-dir", Value: "shares", Usage: "directory for <admin-id>.share files"},
			},
			Action: splitMasterKey,
		},
	},
}

func splitMasterKey(cCtx *cli.Context) error {
	masterHex := cCtx.String(config.MasterKeyFlag.Name)
	if masterHex == "" {
		return config.ErrMissingMasterKey
	}
	adminKeysFile := cCtx.String(config.AdminKeysFileFlag.Name)
	if adminKeysFile == "" {
		return config.ErrMissingAdminKeys
	}

	f, err := os.Open(adminKeysFile)
	if err != nil {
		return err
	}
	defer f.Close()
	adminKeys, err := httpserver.LoadAdminKeys(f)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(adminKeys))
	for id := range adminKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	pubKeys := make([][]byte, len(ids))
	for i, id := range ids {
		pubKeys[i] = adminKeys[id]
	}

	masterKey, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(masterHex), "0x"))
	if err != nil {
		return errors.New("master key is not valid hex")
	}
	defer cryptoutils.WipeBytes(masterKey)

	splitter, shares, err := kms.NewShamirKMS(masterKey, kms.ShamirConfig{
		Threshold:    cCtx.Int(config.ShamirThresholdFlag.Name),
		AdminPubKeys: pubKeys,
	})
	if err != nil {
		return err
	}
	splitter.Close()

	outDir := cCtx.String("out-dir")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return err
	}
	for i, id := range ids {
		path := filepath.Join(outDir, id+".share")
		if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(shares[i])), 0o600); err != nil {
			return err
		}
		cryptoutils.WipeBytes(shares[i])
		fmt.Printf("share for %s written to %s\n", id, path)
	}
	return nil
}

var adminCommand = &cli.Command{
	Name:  "admin",
	Usage: "manage unseal administrators",
	Subcommands: []*cli.Command{
		{
			Name:  "generate",
			Usage: "generate an admin key pair",
			Flags: []cli.Flag{flagAdminPrivkey, flagAdminPubkey},
			Action: func(cCtx *cli.Context) error {
				privateKeyPEM, publicKeyPEM, err := httpserver.GenerateAdminKeyPair()
				if err != nil {
					return err
				}
				if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), []byte(privateKeyPEM), 0o600); err != nil {
					return err
				}
				return os.WriteFile(cCtx.String(flagAdminPubkey.Name), []byte(publicKeyPEM), 0o600)
			},
		},
		{
			Name:      "config",
			Usage:     "write an admin keys file from id=pubkey.pem pairs",
			ArgsUsage: "<id>=<pubkey.pem>...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Value: "admins.json"},
			},
			Action: func(cCtx *cli.Context) error {
				type admin struct {
					ID     string `json:"id"`
					PubKey string `json:"pubkey"`
				}
				var doc struct {
					Admins []admin `json:"admins"`
				}
				for _, arg := range cCtx.Args().Slice() {
					id, path, ok := strings.Cut(arg, "=")
					if !ok || id == "" {
						return fmt.Errorf("expected <id>=<pubkey.pem>, got %q", arg)
					}
					pubKey, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					doc.Admins = append(doc.Admins, admin{ID: id, PubKey: string(pubKey)})
					fmt.Printf("%s: %s\n", id, httpserver.ComputeFingerprint(pubKey))
				}

				data, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				// Reject the file now rather than at server start.
				if _, err := httpserver.LoadAdminKeys(bytes.NewReader(data)); err != nil {
					return err
				}
				return os.WriteFile(cCtx.String("out"), data, 0o644)
			},
		},
	},
}

var unsealCommand = &cli.Command{
	Name:  "unseal",
	Usage: "unseal a treasury-server running with kms-type shamir",
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Flags: []cli.Flag{flagServer, flagAdminID, flagAdminPrivkey},
			Action: func(cCtx *cli.Context) error {
				privateKey, err := readAdminKey(cCtx)
				if err != nil {
					return err
				}
				req, err := httpserver.CreateSignedAdminRequest(http.MethodGet, cCtx.String(flagServer.Name)+"/api/admin/unseal/status", nil, cCtx.String(flagAdminID.Name), privateKey)
				if err != nil {
					return err
				}
				return doAdminRequest(req)
			},
		},
		{
			Name:  "submit-share",
			Flags: []cli.Flag{flagServer, flagAdminID, flagAdminPrivkey, &cli.StringFlag{Name: "share-file", Required: true}},
			Action: func(cCtx *cli.Context) error {
				privateKey, err := readAdminKey(cCtx)
				if err != nil {
					return err
				}
				encoded, err := os.ReadFile(cCtx.String("share-file"))
				if err != nil {
					return err
				}
				share, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
				if err != nil {
					return fmt.Errorf("invalid share file: %w", err)
				}
				defer cryptoutils.WipeBytes(share)

				req, err := httpserver.SubmitShareRequest(cCtx.String(flagServer.Name), cCtx.String(flagAdminID.Name), share, privateKey)
				if err != nil {
					return err
				}
				return doAdminRequest(req)
			},
		},
	},
}

func readAdminKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return nil, err
	}
	return httpserver.ParsePrivateKey(data)
}

func doAdminRequest(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
