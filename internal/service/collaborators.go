package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nurpe/brokerage/internal/model"
)

// CollaboratorInput is one normalized entry of the users field.
type CollaboratorInput struct {
	UserID      uint
	Description *string
	Role        model.ContractRole
}

type collaboratorObject struct {
	UserID      json.RawMessage `json:"user_id"`
	ID          json.RawMessage `json:"id"`
	Description *string         `json:"description"`
	Role        string          `json:"role"`
}

// parseCollaborators reads the JSON users field: an array whose elements are
// user ids (numbers or numeric strings) or {user_id|id, description, role}.
func parseCollaborators(raw string) ([]CollaboratorInput, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, invalid("فیلد users باید آرایه باشد", "users must be a JSON array")
	}

	out := make([]CollaboratorInput, 0, len(items))
	for i, item := range items {
		collaborator, err := parseCollaborator(item)
		if err != nil {
			var classified *Error
			if errors.As(err, &classified) {
				return nil, err
			}
			return nil, invalid("اطلاعات کاربران قرارداد نامعتبر است", fmt.Sprintf("users[%d]: %v", i, err))
		}
		out = append(out, collaborator)
	}
	return out, nil
}

func parseCollaborator(item json.RawMessage) (CollaboratorInput, error) {
	item = bytes.TrimSpace(item)
	if len(item) == 0 || item[0] != '{' {
		id, err := parseUserRef(item)
		if err != nil {
			return CollaboratorInput{}, err
		}
		return CollaboratorInput{UserID: id, Role: model.ContractRoleCollaborator}, nil
	}

	var obj collaboratorObject
	if err := json.Unmarshal(item, &obj); err != nil {
		return CollaboratorInput{}, err
	}
	ref := obj.UserID
	if isNull(ref) {
		ref = obj.ID
	}
	id, err := parseUserRef(ref)
	if err != nil {
		return CollaboratorInput{}, err
	}
	role, err := model.ParseContractRole(obj.Role)
	if err != nil {
		return CollaboratorInput{}, invalidRole(obj.Role)
	}
	return CollaboratorInput{UserID: id, Description: obj.Description, Role: role}, nil
}

func parseUserRef(raw json.RawMessage) (uint, error) {
	if isNull(raw) {
		return 0, errors.New("user_id is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return 0, err
	}

	var text string
	switch v := value.(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, errors.New("user_id must be a number")
	}
	id, err := strconv.ParseUint(text, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("user_id %q is not a valid id", text)
	}
	return uint(id), nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// normalizeCollaborators drops the creator's own entry and collapses repeated
// user ids, keeping the position of the first entry and the values of the
// last one.
func normalizeCollaborators(creatorID uint, collaborators []CollaboratorInput) ([]CollaboratorInput, error) {
	out := make([]CollaboratorInput, 0, len(collaborators))
	index := make(map[uint]int, len(collaborators))
	for _, c := range collaborators {
		if c.UserID == creatorID {
			continue
		}
		if c.Role == model.ContractRoleCreator {
			return nil, creatorRoleReserved()
		}
		if pos, ok := index[c.UserID]; ok {
			out[pos] = c
			continue
		}
		index[c.UserID] = len(out)
		out = append(out, c)
	}
	return out, nil
}

func invalidRole(raw string) *Error {
	return invalid("نقش کاربر نامعتبر است",
		fmt.Sprintf("role %q must be one of creator, collaborator, agent, observer", raw))
}

func creatorRoleReserved() *Error {
	return invalid("نقش سازنده فقط به سازنده قرارداد تعلق دارد", "only the contract creator can hold the creator role")
}
