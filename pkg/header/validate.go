package header

import "strings"

// validate enforces the invariants in §3 Lifecycle and §4.2/§7: required
// fields, temperature range, case-insensitive name uniqueness, and agent
// tools referencing a known interlocutor.
func validate(h *Header) error {
	all := allInterlocutors(h)
	if len(all) == 0 {
		return &ValidationError{Msg: "header must name at least one interlocutor (interlocutor or interlocutors)"}
	}

	seen := map[string]string{}
	names := map[string]bool{}
	for _, i := range all {
		names[strings.ToLower(i.Name)] = true
	}

	for _, i := range all {
		if err := validateInterlocutor(i, names); err != nil {
			return err
		}
		lower := strings.ToLower(i.Name)
		if other, dup := seen[lower]; dup {
			return &ValidationError{Interlocutor: i.Name, Msg: "duplicate interlocutor name (conflicts with " + other + ", case-insensitive)"}
		}
		seen[lower] = i.Name
	}
	return nil
}

func validateInterlocutor(i *Interlocutor, knownNames map[string]bool) error {
	if strings.TrimSpace(i.Name) == "" {
		return &ValidationError{Msg: "interlocutor missing required field: name"}
	}
	if strings.TrimSpace(i.Prompt) == "" {
		return &ValidationError{Interlocutor: i.Name, Field: "prompt", Msg: "required"}
	}
	if i.Temperature != nil && (*i.Temperature < 0 || *i.Temperature > 1) {
		return &ValidationError{Interlocutor: i.Name, Field: "temperature", Msg: "must be in [0,1]"}
	}
	switch i.ThinkingEffort {
	case "", ThinkingNone, ThinkingLow, ThinkingMedium, ThinkingHigh:
	default:
		return &ValidationError{Interlocutor: i.Name, Field: "thinking_effort", Msg: "must be one of none, low, medium, high"}
	}
	for _, t := range i.Tools {
		if t.Variant == VariantAgent && t.AgentRef != "" {
			if !knownNames[strings.ToLower(t.AgentRef)] {
				return &ValidationError{Interlocutor: i.Name, Field: "tools", Msg: "agent tool references unknown interlocutor " + t.AgentRef}
			}
		}
	}
	if err := checkDuplicateToolNames(i); err != nil {
		return err
	}
	return nil
}

func checkDuplicateToolNames(i *Interlocutor) error {
	seen := map[string]bool{}
	for _, t := range i.Tools {
		if t.Name == "" {
			continue
		}
		if seen[t.Name] {
			return &ValidationError{Interlocutor: i.Name, Field: "tools", Msg: "duplicate tool name " + t.Name}
		}
		seen[t.Name] = true
	}
	return nil
}
