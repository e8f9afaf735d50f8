package command

import "strings"

// Capability is a set of traits a params type has. The set is a static
// property of the type, so the gate never inspects concrete types.
type Capability uint8

const (
	// HasOxdID marks params that carry an oxd_id.
	HasOxdID Capability = 1 << iota
	// HasAccessToken marks commands protected by a bearer token.
	HasAccessToken
	// IsRegisterSite marks site registration.
	IsRegisterSite
	// IsGetClientToken marks client token requests, resolved by client_id.
	IsGetClientToken
	// IsGetRp marks get-rp, which carries an oxd_id and a list flag.
	IsGetRp
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{HasOxdID, "has_oxd_id"},
	{HasAccessToken, "has_access_token"},
	{IsRegisterSite, "register_site"},
	{IsGetClientToken, "get_client_token"},
	{IsGetRp, "get_rp"},
}

// Has reports whether every flag in want is set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	var parts []string
	for _, n := range capabilityNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Traits is what the gate needs to know about a params value.
type Traits struct {
	Caps     Capability
	OxdID    string
	ClientID string
	// List is only meaningful for get-rp.
	List bool
}

// Params is implemented by every command's parameter type.
type Params interface {
	Traits() Traits
}

const protected = HasOxdID | HasAccessToken

// oxdTraits is the trait set shared by every oxd_id-bearing protected
// command.
func oxdTraits(oxdID string) Traits {
	return Traits{Caps: protected, OxdID: oxdID}
}
