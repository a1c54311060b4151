package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/yndnr/weft-go/internal/infra/confloader"
)

// ErrNoCertificate is returned by GetCertificate before a successful load.
var ErrNoCertificate = errors.New("tlsroots: no certificate loaded")

// Reloader holds the current server certificate and reloads it from disk.
// A failed reload keeps serving the previous certificate.
type Reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	cert    atomic.Pointer[tls.Certificate]
	reloads atomic.Int64
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithLogger sets the logger for the reloader.
func WithLogger(logger *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// NewReloader loads the key pair once and returns the reloader.
func NewReloader(certFile, keyFile string, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return r, nil
}

// Reload reads the key pair again.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	r.cert.Store(&cert)
	r.reloads.Add(1)

	attrs := []any{"cert_file", r.certFile}
	if cert.Leaf != nil {
		attrs = append(attrs, "not_after", cert.Leaf.NotAfter.Format(time.RFC3339))
	}
	r.logger.Info("certificate loaded", attrs...)
	return nil
}

// Watch registers the certificate files with w and reloads on change.
func (r *Reloader) Watch(w *confloader.Watcher) error {
	for _, f := range []string{r.certFile, r.keyFile} {
		if err := w.Watch(f); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", f, err)
		}
	}
	w.OnChange(func(path string) {
		if path != r.certFile && path != r.keyFile {
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("certificate reload failed",
				"error", err,
				"cert_file", r.certFile,
				"key_file", r.keyFile,
			)
		}
	})
	return nil
}

// GetCertificate returns the current certificate.
// This implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.cert.Load()
	if cert == nil {
		return nil, ErrNoCertificate
	}
	return cert, nil
}

// NotAfter returns the expiry of the current certificate.
func (r *Reloader) NotAfter() time.Time {
	if cert := r.cert.Load(); cert != nil && cert.Leaf != nil {
		return cert.Leaf.NotAfter
	}
	return time.Time{}
}

// Reloads returns the number of successful loads, the initial one included.
func (r *Reloader) Reloads() int64 {
	return r.reloads.Load()
}
