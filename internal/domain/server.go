package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ServerRecord describes a live game server as stored in the registry
type ServerRecord struct {
	Address   string      `json:"address"`
	PlayerIDs []uuid.UUID `json:"player_ids"`
	MapName   string      `json:"map_name"`
}

// PlayerCount returns the number of connected players
func (s *ServerRecord) PlayerCount() int {
	return len(s.PlayerIDs)
}

// PublishServerRequest represents a request to publish or refresh a game server.
// PlayerIDs must be present but may be empty.
type PublishServerRequest struct {
	Address   string      `json:"address"`
	PlayerIDs []uuid.UUID `json:"player_ids"`
	MapName   string      `json:"map_name"`
}

// Validate checks that all fields are present
func (r *PublishServerRequest) Validate() error {
	if strings.TrimSpace(r.Address) == "" || strings.TrimSpace(r.MapName) == "" || r.PlayerIDs == nil {
		return ErrInvalidRequest
	}
	return nil
}

// ToRecord converts the request into a registry record
func (r *PublishServerRequest) ToRecord() ServerRecord {
	players := make([]uuid.UUID, len(r.PlayerIDs))
	copy(players, r.PlayerIDs)
	return ServerRecord{
		Address:   strings.TrimSpace(r.Address),
		PlayerIDs: players,
		MapName:   r.MapName,
	}
}
