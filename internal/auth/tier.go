package auth

// Tier is the ordered privilege level of a subject. Higher tiers satisfy
// every requirement of the tiers below them, so comparisons must always be
// ordered (>=), never equality checks.
type Tier int

const (
	TierPerson       Tier = 1
	TierOrganization Tier = 2
	TierAdmin        Tier = 3
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierPerson && t <= TierAdmin
}

// AtLeast reports whether t satisfies the given minimum tier.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

func (t Tier) String() string {
	switch t {
	case TierPerson:
		return "person"
	case TierOrganization:
		return "organization"
	case TierAdmin:
		return "administrator"
	default:
		return "unknown"
	}
}
