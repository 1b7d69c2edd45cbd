package policy

type Conclusion int

const (
	UNSET Conclusion = iota
	OK
	NG
	ALLOW
	DENY
)

func (c Conclusion) String() string {
	switch c {
	case ALLOW:
		return "allow"
	case DENY:
		return "deny"
	case OK:
		return "ok"
	case NG:
		return "ng"
	default:
		return "unset"
	}
}

func (c Conclusion) Or(other Conclusion) Conclusion {
	if c == UNSET {
		return other
	}
	if other == UNSET {
		return c
	}
	if (c == DENY && other == ALLOW) || (c == ALLOW && other == DENY) {
		return UNSET
	}
	if c == DENY || other == DENY {
		return DENY
	}
	if c == ALLOW || other == ALLOW {
		return ALLOW
	}
	if (c == OK && other == NG) || (c == NG && other == OK) {
		return UNSET
	}
	if c == OK || other == OK {
		return OK
	}
	if c == NG || other == NG {
		return NG
	}
	return UNSET
}

// Request describes a pairing attempt of ChildUID against ParentUID.
type Request struct {
	ParentUID string
	ChildUID  string
	Requester string
	Fields    []string
}
