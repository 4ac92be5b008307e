package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const letsEncryptLive = "/etc/letsencrypt/live"

// certPair is a TLS certificate and key that must both exist to be used
type certPair struct {
	cert   string
	key    string
	source string
}

// certCandidates lists the places to look for TLS material, most specific first:
// workDir, then Let's Encrypt for domain and its chat. host, then system paths
func certCandidates(workDir, domain string) []certPair {
	pairs := []certPair{{
		cert:   filepath.Join(workDir, "cert.pem"),
		key:    filepath.Join(workDir, "key.pem"),
		source: "working directory",
	}}

	if domain != "" {
		for _, host := range []string{domain, "chat." + domain} {
			dir := filepath.Join(letsEncryptLive, host)
			pairs = append(pairs, certPair{
				cert:   filepath.Join(dir, "fullchain.pem"),
				key:    filepath.Join(dir, "privkey.pem"),
				source: "letsencrypt " + host,
			})
		}
	}

	return append(pairs,
		certPair{cert: "/etc/ssl/certs/cert.pem", key: "/etc/ssl/private/key.pem", source: "system"},
		certPair{cert: "/etc/ssl/cert.pem", key: "/etc/ssl/key.pem", source: "system"},
	)
}

// firstCertPair returns the first candidate whose cert and key are both present
func firstCertPair(pairs []certPair, logger zerolog.Logger) (certPair, bool) {
	for _, p := range pairs {
		if fileExists(p.cert) && fileExists(p.key) {
			logger.Debug().Str("source", p.source).Str("cert", p.cert).Msg("TLS certificate found")
			return p, true
		}
	}
	return certPair{}, false
}

// findSSLCertificates resolves the certificate for the HTTPS listener
func findSSLCertificates(domain string, logger zerolog.Logger) (certPath, keyPath string, found bool) {
	p, ok := firstCertPair(certCandidates(".", domain), logger)
	return p.cert, p.key, ok
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
