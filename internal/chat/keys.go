package chat

import (
	"fmt"
	"path"
	"strings"
)

// maxObjectKeyLen matches the width of the image_key column.
const maxObjectKeyLen = 100

// ObjectKey builds the storage key of an attachment:
// {user_id}/{patient_id}/{session_time}/{filename}.
func ObjectKey(userID, patientID, sessionTime, filename string) (string, error) {
	for _, id := range []string{userID, patientID, sessionTime} {
		if err := validateIdentifier(id); err != nil {
			return "", err
		}
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("invalid attachment filename %q", filename)
	}
	key := fmt.Sprintf("%s/%s/%s/%s", userID, patientID, sessionTime, name)
	if len(key) > maxObjectKeyLen {
		return "", fmt.Errorf("object key exceeds %d bytes: %q", maxObjectKeyLen, key)
	}
	return key, nil
}

func validateIdentifier(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

func validateRef(ref SessionRef) error {
	for _, id := range []string{ref.UserID, ref.PatientID, ref.SessionTime} {
		if err := validateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

func sessionLockName(ref SessionRef) string {
	return fmt.Sprintf("lock:chat:%s:%s:%s", ref.UserID, ref.PatientID, ref.SessionTime)
}

// checkObjectKey reports whether key is the attachment key ObjectKey would
// build for ref: the session prefix followed by one bare filename.
func checkObjectKey(ref SessionRef, key string) error {
	prefix := fmt.Sprintf("%s/%s/%s/", ref.UserID, ref.PatientID, ref.SessionTime)
	name, ok := strings.CutPrefix(key, prefix)
	if !ok || name == "" || strings.Contains(name, "/") || len(key) > maxObjectKeyLen {
		return fmt.Errorf("%w: %q", ErrForeignObjectKey, key)
	}
	return nil
}

// sessionRefFromKey recovers the session an attachment key belongs to.
func sessionRefFromKey(key string) (SessionRef, bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[3] == "" {
		return SessionRef{}, false
	}
	ref := SessionRef{UserID: parts[0], PatientID: parts[1], SessionTime: parts[2]}
	if validateRef(ref) != nil {
		return SessionRef{}, false
	}
	return ref, true
}
