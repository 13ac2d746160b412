package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultCertCheckInterval bounds how often the key pair files are stat'ed.
const defaultCertCheckInterval = time.Minute

// CertLoader serves a TLS key pair from disk and picks up renewed files
// without a restart.
type CertLoader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	cert      *tls.Certificate
	loadedAt  time.Time
	lastCheck time.Time
}

// NewCertLoader loads the key pair once and fails if it cannot.
func NewCertLoader(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &CertLoader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: defaultCertCheckInterval,
		logger:   logger.With("component", "cert_loader"),
		now:      time.Now,
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// GetCertificate is a callback for tls.Config.GetCertificate. Reload
// failures keep the previous certificate in service.
func (l *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	l.mu.RLock()
	if l.now().Sub(l.lastCheck) < l.interval {
		defer l.mu.RUnlock()
		return l.cert, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Sub(l.lastCheck) < l.interval {
		return l.cert, nil
	}
	l.lastCheck = l.now()

	changed, err := l.changed()
	if err != nil {
		l.logger.Error("failed to stat key pair", "error", err)
		return l.cert, nil
	}
	if changed {
		if err := l.reload(); err != nil {
			l.logger.Error("failed to reload certificate", "error", err)
		}
	}
	return l.cert, nil
}

// TLSConfig returns a server config backed by the loader.
func (l *CertLoader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: l.GetCertificate,
	}
}

func (l *CertLoader) changed() (bool, error) {
	for _, path := range []string{l.certFile, l.keyFile} {
		st, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		if st.ModTime().After(l.loadedAt) {
			return true, nil
		}
	}
	return false, nil
}

// reload must be called with mu held or before the loader is shared.
func (l *CertLoader) reload() error {
	cert, err := tls.LoadX509KeyPair(l.certFile, l.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	l.cert = &cert
	l.loadedAt = l.now()
	l.logger.Info("loaded tls certificate", "cert", l.certFile, "key", l.keyFile)
	return nil
}
