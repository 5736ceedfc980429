package core

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	tempIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tempIDLength   = 8

	// TempIDPrefix marks client-generated message IDs pending server
	// confirmation.
	TempIDPrefix = "tmp-"
)

// NewTempID creates a temporary message ID for an optimistic entry. The
// timestamp keeps ids roughly sortable by creation; the random suffix
// keeps back-to-back sends distinct.
func NewTempID() (string, error) {
	buf := make([]byte, tempIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate temp id: %w", err)
	}

	suffix := make([]byte, tempIDLength)
	for i := 0; i < tempIDLength; i++ {
		suffix[i] = tempIDAlphabet[int(buf[i])%len(tempIDAlphabet)]
	}

	millis := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return TempIDPrefix + millis + "-" + string(suffix), nil
}

// IsTempID reports whether an ID is client-generated.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
