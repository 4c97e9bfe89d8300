package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenCodec signs and verifies compact tokens with the RSA key pair held by
// an X.509 certificate. Signing uses the private key, verification only the
// certificate's public key, so verify-only codecs can run in processes that
// never see signing material. The codec is a pure transform: it keeps no
// state beyond the immutable key material loaded at construction.
type TokenCodec struct {
	signingKey *rsa.PrivateKey
	verifyKey  *rsa.PublicKey
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
}

// NewTokenCodec builds a codec able to both sign and verify. certPEM must
// hold the X.509 certificate, keyPEM the matching RSA private key.
func NewTokenCodec(certPEM, keyPEM []byte, issuer string, audience []string, logger Logger) (*TokenCodec, error) {
	if logger == nil {
		logger = defLogger{}
	}

	verifyKey, err := publicKeyFromCertificate(certPEM)
	if err != nil {
		return nil, err
	}

	signingKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse signing key")
	}

	if signingKey.PublicKey.N.Cmp(verifyKey.N) != 0 {
		return nil, errors.New("certificate does not match signing key", errors.CategoryBadInput)
	}

	return &TokenCodec{
		signingKey: signingKey,
		verifyKey:  verifyKey,
		issuer:     issuer,
		audience:   append(jwt.ClaimStrings(nil), audience...),
		logger:     logger,
	}, nil
}

// NewVerifyOnlyCodec builds a codec from the certificate alone. Sign returns
// an error; Verify works exactly as on a full codec.
func NewVerifyOnlyCodec(certPEM []byte, issuer string, audience []string, logger Logger) (*TokenCodec, error) {
	if logger == nil {
		logger = defLogger{}
	}

	verifyKey, err := publicKeyFromCertificate(certPEM)
	if err != nil {
		return nil, err
	}

	return &TokenCodec{
		verifyKey: verifyKey,
		issuer:    issuer,
		audience:  append(jwt.ClaimStrings(nil), audience...),
		logger:    logger,
	}, nil
}

// Sign produces a compact RS256 token for the given claims. Issuer and
// audience defaults are applied when the claims leave them empty.
func (c *TokenCodec) Sign(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}
	if c.signingKey == nil {
		return "", errors.New("codec is verify-only, no signing key loaded", errors.CategoryInternal)
	}

	if claims.Version == 0 {
		claims.Version = ClaimsVersion
	}
	if claims.RegisteredClaims.Issuer == "" {
		claims.RegisteredClaims.Issuer = c.issuer
	}
	if len(claims.RegisteredClaims.Audience) == 0 {
		claims.RegisteredClaims.Audience = append(jwt.ClaimStrings(nil), c.audience...)
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// Verify parses and validates a compact token. It rejects non-RS256
// signatures, signature mismatches, issuer/audience mismatches, and expired
// timestamps. Expiry is exact: no leeway is configured on the parser.
func (c *TokenCodec) Verify(tokenString string) (*TokenClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(c.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		return c.verifyKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		c.logger.Error("TokenCodec verify could not decode claims")
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func publicKeyFromCertificate(certPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("no PEM block found in certificate", errors.CategoryBadInput)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse certificate")
	}

	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not hold an RSA public key", errors.CategoryBadInput)
	}

	return key, nil
}
