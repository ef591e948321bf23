package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mnehpets/a2aserve/a2a"
	"gopkg.in/yaml.v3"
)

// defaultModes is used when a card declares no input or output modes.
var defaultModes = []string{"text/plain"}

// LoadAgentCard reads an agent card from a YAML file. Unknown keys are
// rejected. protocolVersion defaults to a2a.ProtocolVersion and the default
// input and output modes to text/plain.
func LoadAgentCard(path string) (*a2a.AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: agent card: %w", err)
	}
	card, err := ParseAgentCard(data)
	if err != nil {
		return nil, fmt.Errorf("config: agent card %s: %w", path, err)
	}
	return card, nil
}

// ParseAgentCard decodes and checks a YAML agent card.
func ParseAgentCard(data []byte) (*a2a.AgentCard, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var card a2a.AgentCard
	if err := dec.Decode(&card); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}

	if card.ProtocolVersion == "" {
		card.ProtocolVersion = a2a.ProtocolVersion
	}
	if len(card.DefaultInputModes) == 0 {
		card.DefaultInputModes = append([]string(nil), defaultModes...)
	}
	if len(card.DefaultOutputModes) == 0 {
		card.DefaultOutputModes = append([]string(nil), defaultModes...)
	}
	if card.Skills == nil {
		card.Skills = []a2a.AgentSkill{}
	}

	var errs []error
	for _, f := range []struct{ name, value string }{
		{"name", card.Name},
		{"url", card.URL},
		{"version", card.Version},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	for i, s := range card.Skills {
		if s.ID == "" || s.Name == "" {
			errs = append(errs, fmt.Errorf("skills[%d]: id and name are required", i))
		}
		if s.Tags == nil {
			card.Skills[i].Tags = []string{}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &card, nil
}
