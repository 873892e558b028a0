package serializer

// UserKeySpec selects principal-bound key material for a label.
// Use in label configuration: `user_key_spec: CurrentUser`.
type UserKeySpec string

const (
	// UserKeySpecNone means the label carries no profile keys.
	UserKeySpecNone UserKeySpec = ""

	// UserKeySpecCurrentUser resolves to the caller's profile public keys.
	UserKeySpecCurrentUser UserKeySpec = "CurrentUser"
)

// Well-known labels with fixed ordering priority.
const (
	// LabelSystem is processed first.
	LabelSystem = "system"

	// LabelUser is processed after system.
	LabelUser = "user"
)

// Label priorities. Lower sorts first; ties break on ordinal name.
const (
	PrioritySystem  = 0
	PriorityUser    = 1
	PriorityDefault = 2
)

// encryptedSuffix is appended to a label name to form its companion key.
const encryptedSuffix = "_encrypted"

// validUserKeySpecs contains all valid user key specs for config validation.
var validUserKeySpecs = map[UserKeySpec]bool{
	UserKeySpecNone:        true,
	UserKeySpecCurrentUser: true,
}

// IsValidUserKeySpec returns true if the spec is a known user key spec.
func IsValidUserKeySpec(spec UserKeySpec) bool {
	return validUserKeySpecs[spec]
}

// LabelPriority returns the default priority for a label name.
func LabelPriority(label string) int {
	switch label {
	case LabelSystem:
		return PrioritySystem
	case LabelUser:
		return PriorityUser
	default:
		return PriorityDefault
	}
}

// CompanionKey returns the companion map key holding a label's group.
func CompanionKey(label string) string {
	return label + encryptedSuffix
}
