package resync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"
)

// Message is the wire form of a resync hint
type Message struct {
	Participant string    `json:"participant"`
	ObjectID    string    `json:"object_id"`
	Origin      string    `json:"origin"`
	SentAt      time.Time `json:"sent_at"`
	Token       string    `json:"token"`
}

// Encode serializes m
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a wire message
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Participant == "" {
		return Message{}, fmt.Errorf("%w: missing participant", ErrMalformedMessage)
	}
	return m, nil
}

const (
	keySize          = 32
	keyIterations    = 10_000
	defaultTokenTTL  = time.Minute
	tokenClockLeeway = 5 * time.Second
)

// hintClaims binds a token to one hint so it cannot be replayed for another
// participant or object
type hintClaims struct {
	Participant string `json:"par"`
	ObjectID    string `json:"oid"`
	jwt.RegisteredClaims
}

// Signer issues and checks message tokens. The key is derived from the
// cluster validation token, so only members of the same cluster agree on it.
type Signer struct {
	key     []byte
	cluster string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner derives a signing key for a cluster
func NewSigner(clusterName, validationToken string) (*Signer, error) {
	if validationToken == "" {
		return nil, fmt.Errorf("%w: empty validation token", ErrInvalidToken)
	}
	key := pbkdf2.Key([]byte(validationToken), []byte("controlplane-resync:"+clusterName), keyIterations, keySize, sha256.New)
	return &Signer{key: key, cluster: clusterName, ttl: defaultTokenTTL, now: time.Now}, nil
}

// Sign sets m.Token
func (s *Signer) Sign(m *Message) error {
	now := s.now()
	claims := hintClaims{
		Participant: m.Participant,
		ObjectID:    m.ObjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.Origin,
			Audience:  jwt.ClaimStrings{s.cluster},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return fmt.Errorf("failed to sign resync message: %w", err)
	}
	m.Token = token
	return nil
}

// Verify checks that m.Token was issued by this cluster for exactly m
func (s *Signer) Verify(m Message) error {
	if m.Token == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidToken)
	}

	var claims hintClaims
	_, err := jwt.ParseWithClaims(m.Token, &claims,
		func(token *jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.cluster),
		jwt.WithLeeway(tokenClockLeeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Participant != m.Participant || claims.ObjectID != m.ObjectID || claims.Issuer != m.Origin {
		return fmt.Errorf("%w: claims do not match message", ErrInvalidToken)
	}
	return nil
}
