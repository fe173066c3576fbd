package runtime

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/audiosync/internal/config"
)

func listen(server *http.Server, cfg appconfig.HTTPConfig, logger *zap.Logger) error {
	if cfg.TLSDisable {
		logger.Info("starting http server", zap.String("addr", cfg.Addr))
		return server.ListenAndServe()
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	certExists := cfg.TLSCertPath != "" && fileExists(certPath)
	keyExists := cfg.TLSKeyPath != "" && fileExists(keyPath)

	if certExists && keyExists {
		logger.Info("starting https server", zap.String("addr", cfg.Addr))
		return server.ListenAndServeTLS(certPath, keyPath)
	}
	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		missing := []string{}
		if !certExists {
			missing = append(missing, certPath)
		}
		if !keyExists {
			missing = append(missing, keyPath)
		}
		logger.Warn("tls certs missing; using in-memory cert", zap.Strings("missing", missing))
	}

	host, _, _ := net.SplitHostPort(cfg.Addr)
	cert, err := generateSelfSignedCert(host)
	if err != nil {
		return fmt.Errorf("failed to generate tls cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	logger.Info("starting https server with in-memory cert", zap.String("addr", cfg.Addr))
	return server.ListenAndServeTLS("", "")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func generateSelfSignedCert(host string) (tls.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	notBefore := time.Now().Add(-time.Minute)
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	dnsNames := []string{"localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("::1"),
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		if ip := net.ParseIP(host); ip != nil {
			ipAddresses = appendIP(ipAddresses, ip)
		} else {
			dnsNames = append(dnsNames, host)
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "audiosync-local", Organization: []string{"audiosync"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     uniqueStrings(dnsNames),
		IPAddresses:  ipAddresses,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return tls.X509KeyPair(certPEM, keyPEM)
}

func appendIP(list []net.IP, ip net.IP) []net.IP {
	for _, existing := range list {
		if existing.Equal(ip) {
			return list
		}
	}
	return append(list, ip)
}

func uniqueStrings(list []string) []string {
	unique := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}
