package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// GenerateSessionID generates a unique call session ID
func GenerateSessionID() string {
	return GenerateID("call")
}

// GenerateMeshPeerID generates the per-join peer ID used on a group channel.
func GenerateMeshPeerID() string {
	return uuid.NewString()
}

func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}

// GenerateInstanceID identifies this node on shared pub/sub channels.
func GenerateInstanceID() string {
	return GenerateID("node")
}
