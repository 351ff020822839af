// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package certstoretest provides support for creating certificate
// store layouts for use in tests.
package certstoretest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"cloudeng.io/certsync/certstore"
)

// NewCert returns a PEM encoded self-signed certificate for host that
// expires at notAfter together with its PEM encoded private key.
func NewCert(t testing.TB, host string, notAfter time.Time) (certPEM, keyPEM string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serial number: %v", err)
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return
}

// File represents a file to be created in a Layout.
type File struct {
	Name    string
	Data    string
	ModTime time.Time
}

// Layout represents the contents of the certificate and key
// directories and the CA bundle.
type Layout struct {
	CertDir      string
	KeyDir       string
	CABundleFile string
	CABundle     string
	Certs        []File
	Keys         []File
}

// DefaultLayout returns a Layout using the directory names certs and
// keys and a CA bundle file named ca-bundle.txt.
func DefaultLayout() *Layout {
	return &Layout{
		CertDir:      "certs",
		KeyDir:       "keys",
		CABundleFile: "ca-bundle.txt",
	}
}

// Config returns the certstore.Config for the layout.
func (l *Layout) Config() certstore.Config {
	return certstore.Config{
		CertDir:      l.CertDir,
		KeyDir:       l.KeyDir,
		CABundleFile: l.CABundleFile,
	}
}

// AddCert adds a certificate file.
func (l *Layout) AddCert(name, data string) *Layout {
	l.Certs = append(l.Certs, File{Name: name, Data: data})
	return l
}

// AddKey adds a key file with the specified modification time.
func (l *Layout) AddKey(name, data string, modTime time.Time) *Layout {
	l.Keys = append(l.Keys, File{Name: name, Data: data, ModTime: modTime})
	return l
}

// MapFS returns an fstest.MapFS containing the layout.
func (l *Layout) MapFS() fstest.MapFS {
	fsys := fstest.MapFS{}
	if len(l.CABundleFile) > 0 {
		fsys[l.CABundleFile] = &fstest.MapFile{Data: []byte(l.CABundle), Mode: 0600}
	}
	for _, f := range l.Certs {
		fsys[l.CertDir+"/"+f.Name] = &fstest.MapFile{Data: []byte(f.Data), Mode: 0600, ModTime: f.ModTime}
	}
	for _, f := range l.Keys {
		fsys[l.KeyDir+"/"+f.Name] = &fstest.MapFile{Data: []byte(f.Data), Mode: 0600, ModTime: f.ModTime}
	}
	return fsys
}

// WriteDir writes the layout below root and returns a copy of the
// layout with all paths made absolute.
func (l *Layout) WriteDir(t testing.TB, root string) *Layout {
	t.Helper()
	nl := *l
	nl.CertDir = filepath.Join(root, l.CertDir)
	nl.KeyDir = filepath.Join(root, l.KeyDir)
	for _, dir := range []string{nl.CertDir, nl.KeyDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			t.Fatal(err)
		}
	}
	if len(l.CABundleFile) > 0 {
		nl.CABundleFile = filepath.Join(root, l.CABundleFile)
		if err := os.WriteFile(nl.CABundleFile, []byte(l.CABundle), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write := func(dir string, f File) {
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, []byte(f.Data), 0600); err != nil {
			t.Fatal(err)
		}
		if !f.ModTime.IsZero() {
			if err := os.Chtimes(path, f.ModTime, f.ModTime); err != nil {
				t.Fatal(err)
			}
		}
	}
	for _, f := range l.Certs {
		write(nl.CertDir, f)
	}
	for _, f := range l.Keys {
		write(nl.KeyDir, f)
	}
	return &nl
}
