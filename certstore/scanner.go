// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package certstore provides support for locating the certificates and
// private keys written to the local file system by a host's ACME client.
// Certificates and keys are stored in separate directories using
// filenames of the form <subdomain>_<domain>_<tld>_<id1>_<id2>_...crt
// and <id1>_<id2>_...key respectively. A single CA bundle is shared
// by all certificates.
package certstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"cloudeng.io/certsync/domainname"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"github.com/go-acme/lego/v4/certcrypto"
)

// ErrNotFound is returned when there is no usable certificate and
// private key for a domain.
var ErrNotFound = errors.New("no local certificate bundle")

// Config represents the location of certificates, keys and the
// CA bundle on the local file system.
type Config struct {
	CertDir      string `yaml:"cert_dir" cmd:"directory containing certificates, defaults to $HOME/ssl/certs"`
	KeyDir       string `yaml:"key_dir" cmd:"directory containing private keys, defaults to $HOME/ssl/keys"`
	CABundleFile string `yaml:"ca_bundle_file" cmd:"file containing the CA bundle shared by all certificates"`
}

// WithDefaults returns a copy of the config with default values for
// the certificate and key directories and with environment
// variables expanded in all paths.
func (c Config) WithDefaults() Config {
	home, _ := os.UserHomeDir()
	if len(c.CertDir) == 0 {
		c.CertDir = filepath.Join(home, "ssl", "certs")
	}
	if len(c.KeyDir) == 0 {
		c.KeyDir = filepath.Join(home, "ssl", "keys")
	}
	c.CertDir = os.ExpandEnv(c.CertDir)
	c.KeyDir = os.ExpandEnv(c.KeyDir)
	c.CABundleFile = os.ExpandEnv(c.CABundleFile)
	return c
}

// FS represents the file system operations required by a Scanner.
// fstest.MapFS and the value returned by os.DirFS both implement FS.
type FS interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	ReadFile(name string) ([]byte, error)
}

type osFS struct{}

func (osFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}

func (osFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// Option represents an option for NewScanner.
type Option func(o *options)

type options struct {
	fsys       FS
	certSuffix string
	keySuffix  string
}

// WithFS sets the file system to be used by the scanner. The default
// is the local file system.
func WithFS(fsys FS) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithCertSuffix sets the filename suffix used for certificates, the
// default is ".crt".
func WithCertSuffix(suffix string) Option {
	return func(o *options) {
		o.certSuffix = suffix
	}
}

// WithKeySuffix sets the filename suffix used for private keys, the
// default is ".key".
func WithKeySuffix(suffix string) Option {
	return func(o *options) {
		o.keySuffix = suffix
	}
}

// Bundle represents a certificate, its private key and the shared
// CA bundle. All text is trimmed of leading and trailing whitespace.
type Bundle struct {
	Cert     string
	Key      string
	CABundle string
	CertFile string
	KeyFile  string
	NotAfter time.Time
}

// Valid returns true if both the certificate and key are non-empty.
func (b Bundle) Valid() bool {
	return len(b.Cert) > 0 && len(b.Key) > 0
}

// Scanner locates the newest certificate and key for a domain.
type Scanner struct {
	cfg  Config
	opts options

	caOnce   sync.Once
	caBundle string
	caErr    error
}

// NewScanner returns a Scanner for the supplied configuration. The
// caller is responsible for applying Config.WithDefaults if required.
func NewScanner(cfg Config, opts ...Option) *Scanner {
	s := &Scanner{cfg: cfg}
	for _, fn := range opts {
		fn(&s.opts)
	}
	if s.opts.fsys == nil {
		s.opts.fsys = osFS{}
	}
	if len(s.opts.certSuffix) == 0 {
		s.opts.certSuffix = ".crt"
	}
	if len(s.opts.keySuffix) == 0 {
		s.opts.keySuffix = ".key"
	}
	return s
}

// Config returns the scanner's configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Find returns the bundle for the specified domain. It returns
// domainname.ErrMalformed for unsupported domain names and ErrNotFound
// if either the certificate or key cannot be found, or are empty.
//
// The certificate with the latest expiry time, as recorded in the
// certificate itself, is selected from those whose filenames match
// the domain. The key is then selected using the two components that
// follow the domain in the certificate's filename, with the most
// recently modified key file being used.
func (s *Scanner) Find(ctx context.Context, domain string) (Bundle, error) {
	name, err := domainname.Parse(domain)
	if err != nil {
		return Bundle{}, err
	}
	logger := ctxlog.Logger(ctx).With("component", "certstore", "domain", domain)
	prefix := name.SearchPrefix()

	cert, err := s.newestCert(logger, prefix)
	if err != nil {
		return Bundle{}, fmt.Errorf("%v: certificate: %w", domain, err)
	}
	logger.Debug("found certificate", "file", cert.path, "not_after", cert.notAfter)

	keyPrefix, ok := keyPrefixFor(prefix, filepath.Base(cert.path))
	if !ok {
		logger.Info("certificate filename does not identify a key", "file", cert.path)
		return Bundle{}, fmt.Errorf("%v: key for %v: %w", domain, cert.path, ErrNotFound)
	}
	keyFile, key, err := s.newestKey(logger, keyPrefix)
	if err != nil {
		return Bundle{}, fmt.Errorf("%v: %w", domain, err)
	}
	logger.Debug("found key", "file", keyFile)

	bundle := Bundle{
		Cert:     strings.TrimSpace(string(cert.data)),
		Key:      strings.TrimSpace(string(key)),
		CertFile: cert.path,
		KeyFile:  keyFile,
		NotAfter: cert.notAfter,
	}
	if !bundle.Valid() {
		logger.Info("empty certificate or key", "cert", cert.path, "key", keyFile)
		return Bundle{}, fmt.Errorf("%v: %w", domain, ErrNotFound)
	}
	bundle.CABundle, err = s.loadCABundle()
	if err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// CABundle returns the shared CA bundle, reading it on first use.
func (s *Scanner) CABundle() (string, error) {
	return s.loadCABundle()
}

func (s *Scanner) loadCABundle() (string, error) {
	s.caOnce.Do(func() {
		if len(s.cfg.CABundleFile) == 0 {
			return
		}
		data, err := s.opts.fsys.ReadFile(s.cfg.CABundleFile)
		if err != nil {
			s.caErr = fmt.Errorf("failed to read CA bundle: %w", err)
			return
		}
		s.caBundle = strings.TrimSpace(string(data))
	})
	return s.caBundle, s.caErr
}

type certFile struct {
	path     string
	data     []byte
	notAfter time.Time
}

// matching returns the entries in dir, other than directories, whose
// names have the specified prefix and suffix. A directory that cannot be read
// is treated as being empty.
func (s *Scanner) matching(logger *slog.Logger, dir, prefix, suffix string) []fs.DirEntry {
	entries, err := s.opts.fsys.ReadDir(dir)
	if err != nil {
		logger.Debug("failed to read directory", "dir", dir, "error", err)
		return nil
	}
	var matches []fs.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
			matches = append(matches, e)
		}
	}
	return matches
}

func (s *Scanner) newestCert(logger *slog.Logger, prefix string) (certFile, error) {
	entries := s.matching(logger, s.cfg.CertDir, prefix, s.opts.certSuffix)
	if len(entries) == 0 {
		logger.Info("no certificate files found", "dir", s.cfg.CertDir, "prefix", prefix, "suffix", s.opts.certSuffix)
		return certFile{}, ErrNotFound
	}
	certs := make([]certFile, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(s.cfg.CertDir, e.Name())
		data, err := s.opts.fsys.ReadFile(path)
		if err != nil {
			logger.Debug("failed to read certificate", "file", path, "error", err)
			continue
		}
		certs = append(certs, certFile{
			path:     path,
			data:     data,
			notAfter: expiry(logger, path, data),
		})
	}
	if len(certs) == 0 {
		return certFile{}, ErrNotFound
	}
	slices.SortStableFunc(certs, func(a, b certFile) int {
		if c := a.notAfter.Compare(b.notAfter); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})
	return certs[len(certs)-1], nil
}

// expiry returns the NotAfter time of the first certificate in data,
// or the zero time if it cannot be parsed.
func expiry(logger *slog.Logger, path string, data []byte) time.Time {
	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		logger.Debug("failed to parse certificate", "file", path, "error", err)
		return time.Time{}
	}
	return cert.NotAfter
}

// keyPrefixFor returns the key filename prefix encoded in the
// certificate filename, ie. <id1>_<id2> from
// <subdomain>_<domain>_<tld>_<id1>_<id2>_....
func keyPrefixFor(prefix, certName string) (string, bool) {
	rest := strings.TrimPrefix(certName, prefix)
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) < 2 || len(parts[0]) == 0 {
		return "", false
	}
	return parts[0] + "_" + parts[1], true
}

type keyFile struct {
	path    string
	modTime time.Time
}

func (s *Scanner) newestKey(logger *slog.Logger, prefix string) (string, []byte, error) {
	entries := s.matching(logger, s.cfg.KeyDir, prefix, s.opts.keySuffix)
	keys := make([]keyFile, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			logger.Debug("failed to stat key", "file", e.Name(), "error", err)
			continue
		}
		keys = append(keys, keyFile{
			path:    filepath.Join(s.cfg.KeyDir, e.Name()),
			modTime: info.ModTime(),
		})
	}
	if len(keys) == 0 {
		logger.Info("no key files found", "dir", s.cfg.KeyDir, "prefix", prefix, "suffix", s.opts.keySuffix)
		return "", nil, fmt.Errorf("key: %w", ErrNotFound)
	}
	slices.SortStableFunc(keys, func(a, b keyFile) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})
	newest := keys[len(keys)-1]
	data, err := s.opts.fsys.ReadFile(newest.path)
	if err != nil {
		logger.Info("failed to read key", "file", newest.path, "error", err)
		return "", nil, fmt.Errorf("key %v: %w", newest.path, ErrNotFound)
	}
	return newest.path, data, nil
}
