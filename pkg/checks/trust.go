package checks

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/samber/lo"
)

const assumeRoleAction = "sts:AssumeRole"

// stringOrList decodes IAM fields that may be a string or a list of strings
type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = stringOrList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type trustDocument struct {
	Statement []trustStatement `json:"Statement"`
}

type trustStatement struct {
	Effect    string          `json:"Effect"`
	Action    stringOrList    `json:"Action"`
	Principal json.RawMessage `json:"Principal"`
}

// services returns the service principals of the statement; "*" and AWS
// account principals are not services
func (s trustStatement) services() ([]string, error) {
	if len(s.Principal) == 0 || s.Principal[0] != '{' {
		return nil, nil
	}
	var p struct {
		Service stringOrList `json:"Service"`
	}
	if err := json.Unmarshal(s.Principal, &p); err != nil {
		return nil, err
	}
	return p.Service, nil
}

// trustsService reports whether the URL-encoded trust policy lets service
// assume the role through an Allow statement
func trustsService(encoded, service string) (bool, error) {
	raw, err := url.QueryUnescape(encoded)
	if err != nil {
		return false, fmt.Errorf("decode trust policy: %w", err)
	}
	var doc trustDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return false, fmt.Errorf("parse trust policy: %w", err)
	}
	for _, st := range doc.Statement {
		if st.Effect != "Allow" || !lo.Contains(st.Action, assumeRoleAction) {
			continue
		}
		services, err := st.services()
		if err != nil {
			return false, fmt.Errorf("parse trust policy principal: %w", err)
		}
		if lo.Contains(services, service) {
			return true, nil
		}
	}
	return false, nil
}
