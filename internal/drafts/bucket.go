package drafts

import (
	"encoding/hex"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/blake2b"
)

const bucketPrefix = "draft-"

// BucketFor maps an opaque authoring key to its stable bucket id.
func BucketFor(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return bucketPrefix + hex.EncodeToString(sum[:16])
}

// ParentKey is the authoring key generated for "the reply draft of parentID"
// when the caller does not supply one.
func ParentKey(parentID uuid.UUID) string {
	return "reply:" + parentID.String()
}
