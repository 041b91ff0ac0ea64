package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleResearcher Role = "RESEARCHER"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RolePatient:
		return RolePatient, nil
	case RoleDoctor:
		return RoleDoctor, nil
	case RoleResearcher:
		return RoleResearcher, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Capability string

const (
	CapUploadRecord  Capability = "record.upload"
	CapReadRecord    Capability = "record.read"
	CapRequestAccess Capability = "access.request"
	CapDecideAccess  Capability = "access.decide"
)

// roleCapabilities is the single authorization table. Role checks happen
// once at the service boundary against this map, never by comparing role
// strings inside handlers. Researchers hold no capability: the
// de-identified research read path is out of scope.
var roleCapabilities = map[Role]map[Capability]struct{}{
	RolePatient: {
		CapUploadRecord: {},
		CapReadRecord:   {},
		CapDecideAccess: {},
	},
	RoleDoctor: {
		CapReadRecord:    {},
		CapRequestAccess: {},
	},
	RoleResearcher: {},
}

func (r Role) Can(c Capability) bool {
	caps, ok := roleCapabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[c]
	return ok
}
