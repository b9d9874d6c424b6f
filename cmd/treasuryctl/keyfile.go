package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/treasury-vault/interfaces"
)

// walletSuffix names key files in a legacy keys directory: <account>-wallet.json.
const walletSuffix = "-wallet.json"

var errNoSecret = errors.New("key file has no secretKey or privateKey")

type keyFile struct {
	SecretKey    json.RawMessage `json:"secretKey"`
	PrivateKey   json.RawMessage `json:"privateKey"`
	Label        string          `json:"label"`
	Purpose      string          `json:"purpose"`
	Description  string          `json:"description"`
	PublicKey    string          `json:"publicKey"`
	TokenAccount string          `json:"tokenAccount"`
}

// parseKeyFile accepts either a bare JSON byte array or an object carrying secretKey or
// privateKey (a string or a byte array) plus optional metadata.
func parseKeyFile(data []byte, account interfaces.AccountID) ([]byte, interfaces.CredentialMetadata, error) {
	meta := interfaces.CredentialMetadata{
		Label:   strings.ToUpper(account.String()),
		Purpose: account.String(),
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		secret, err := decodeSecret(trimmed)
		return secret, meta, err
	}

	var kf keyFile
	if err := json.Unmarshal(trimmed, &kf); err != nil {
		return nil, meta, fmt.Errorf("invalid key file: %w", err)
	}

	raw := kf.SecretKey
	if len(raw) == 0 || string(raw) == "null" {
		raw = kf.PrivateKey
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, meta, errNoSecret
	}
	secret, err := decodeSecret(raw)
	if err != nil {
		return nil, meta, err
	}

	if kf.Label != "" {
		meta.Label = kf.Label
	}
	switch {
	case kf.Purpose != "":
		meta.Purpose = kf.Purpose
	case kf.Description != "":
		meta.Purpose = kf.Description
	}
	meta.PublicIdentifier = kf.PublicKey
	meta.TokenAccount = kf.TokenAccount
	return secret, meta, nil
}

func decodeSecret(raw json.RawMessage) ([]byte, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil, errNoSecret
		}
		return []byte(asString), nil
	}

	var asBytes []byte
	var asInts []int
	if err := json.Unmarshal(raw, &asInts); err != nil {
		return nil, fmt.Errorf("secret must be a string or a byte array: %w", err)
	}
	if len(asInts) == 0 {
		return nil, errNoSecret
	}
	asBytes = make([]byte, len(asInts))
	for i, v := range asInts {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("secret byte %d out of range", i)
		}
		asBytes[i] = byte(v)
	}
	return asBytes, nil
}

// walletFiles maps account ids to <account>-wallet.json files found in dir.
func walletFiles(dir string) (map[interfaces.AccountID]string, []interfaces.AccountID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	files := make(map[interfaces.AccountID]string)
	var accounts []interfaces.AccountID
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), walletSuffix)
		if !ok || entry.IsDir() {
			continue
		}
		account, err := interfaces.NewAccountID(name)
		if err != nil {
			continue
		}
		files[account] = filepath.Join(dir, entry.Name())
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return files, accounts, nil
}
