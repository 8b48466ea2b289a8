package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"

	"github.com/pion/dtls/v2"
	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
)

// RFC5764, section 4.2
const dtlsSRTPExporterLabel = "EXTRACTOR-dtls_srtp"

// DTLSConfig is the configuration of a DTLS-SRTP handshake.
type DTLSConfig struct {
	// client certificates. A self-signed certificate is generated when empty.
	Certificates []tls.Certificate

	// remote certificate fingerprint, in the SDP format ("sha-256 AB:CD:...").
	// When provided, the remote certificate is checked against it
	// instead of being verified against RootCAs.
	Fingerprint string

	RootCAs            *x509.CertPool
	ServerName         string
	InsecureSkipVerify bool

	// offered suites. They default to the AES_CM_128 ones.
	Suites []Suite
}

// DTLSResult is the result of a DTLS-SRTP handshake.
type DTLSResult struct {
	// key used to encrypt outgoing packets.
	Local *KeyMaterial

	// key used to decrypt incoming packets.
	Remote *KeyMaterial

	Conn *dtls.Conn
}

func verifyFingerprint(expected string) (func([][]byte, [][]*x509.Certificate) error, error) {
	algo, value, ok := strings.Cut(strings.TrimSpace(expected), " ")
	if !ok {
		return nil, fmt.Errorf("invalid fingerprint (%v)", expected)
	}

	hash, err := fingerprint.HashFromString(algo)
	if err != nil {
		return nil, err
	}

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("remote certificate not provided")
		}

		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}

		got, err := fingerprint.Fingerprint(cert, hash)
		if err != nil {
			return err
		}

		if !strings.EqualFold(got, value) {
			return fmt.Errorf("remote certificate fingerprint mismatch")
		}

		return nil
	}, nil
}

// DTLSKeys performs a DTLS client handshake on conn and derives
// SRTP keys from the exported keying material (RFC5764).
func DTLSKeys(ctx context.Context, conn net.Conn, cfg DTLSConfig) (*DTLSResult, error) {
	certs := cfg.Certificates
	if len(certs) == 0 {
		cert, err := selfsign.GenerateSelfSigned()
		if err != nil {
			return nil, err
		}
		certs = []tls.Certificate{cert}
	}

	offered := cfg.Suites
	if len(offered) == 0 {
		offered = []Suite{SuiteAES128CMHMACSHA180, SuiteAES128CMHMACSHA132}
	}

	var profiles []dtls.SRTPProtectionProfile
	for _, s := range offered {
		if p := suites[s].dtlsProfile; p != 0 {
			profiles = append(profiles, p)
		}
	}
	if profiles == nil {
		return nil, fmt.Errorf("none of the offered suites can be negotiated with DTLS")
	}

	dtlsConf := &dtls.Config{
		Certificates:           certs,
		RootCAs:                cfg.RootCAs,
		ServerName:             cfg.ServerName,
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
		SRTPProtectionProfiles: profiles,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
	}

	if cfg.Fingerprint != "" {
		verify, err := verifyFingerprint(cfg.Fingerprint)
		if err != nil {
			return nil, err
		}
		dtlsConf.InsecureSkipVerify = true
		dtlsConf.VerifyPeerCertificate = verify
	}

	dconn, err := dtls.ClientWithContext(ctx, conn, dtlsConf)
	if err != nil {
		return nil, fmt.Errorf("DTLS handshake failed: %w", err)
	}

	profile, ok := dconn.SelectedSRTPProtectionProfile()
	if !ok {
		dconn.Close() //nolint:errcheck
		return nil, fmt.Errorf("server did not select a SRTP protection profile")
	}

	suite, ok := suiteFromDTLS(profile)
	if !ok {
		dconn.Close() //nolint:errcheck
		return nil, fmt.Errorf("unsupported SRTP protection profile: %v", profile)
	}

	keyLen := suite.KeyLen()
	saltLen := suite.SaltLen()

	state := dconn.ConnectionState()
	material, err := state.ExportKeyingMaterial(dtlsSRTPExporterLabel, nil, 2*(keyLen+saltLen))
	if err != nil {
		dconn.Close() //nolint:errcheck
		return nil, err
	}

	// client key, server key, client salt, server salt
	clientKey := material[:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen:]

	return &DTLSResult{
		Local: &KeyMaterial{
			Suite:  suite,
			Key:    clientKey,
			Salt:   clientSalt,
			Source: KeySourceDTLS,
		},
		Remote: &KeyMaterial{
			Suite:  suite,
			Key:    serverKey,
			Salt:   serverSalt,
			Source: KeySourceDTLS,
		},
		Conn: dconn,
	}, nil
}
