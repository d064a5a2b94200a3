package room

import (
	"context"

	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Grant is what a connection may do in a room.
type Grant struct {
	Role         auth.Role
	TeamID       string
	Capabilities []auth.Capability
}

// PermissionChecker decides the grant for a join request.
type PermissionChecker interface {
	Resolve(ctx context.Context, id auth.Identity, match *models.MatchState, req JoinRequest) (Grant, error)
}

var roleCapabilities = map[auth.Role][]auth.Capability{
	auth.RoleReferee: {
		auth.CapTimerControl,
		auth.CapStatusChange,
		auth.CapEventEntry,
		auth.CapEventSubmit,
		auth.CapChat,
	},
	auth.RoleCoach:     {auth.CapChat},
	auth.RoleSpectator: {auth.CapChat},
}

// permissionCapabilities maps account permissions onto room capabilities.
var permissionCapabilities = map[string][]auth.Capability{
	"profile.edit_others": {auth.CapEventEntry, auth.CapEventSubmit},
	"match.timer":         {auth.CapTimerControl},
	"match.status":        {auth.CapStatusChange},
}

// refereeOnly capabilities are never granted to spectators, whatever the
// token's permissions say.
var refereeOnly = []auth.Capability{
	auth.CapTimerControl,
	auth.CapStatusChange,
	auth.CapEventEntry,
}

// ClaimsPermissionChecker grants from the roles and permissions in the token.
// Only coaches are bound to a team.
type ClaimsPermissionChecker struct{}

func (ClaimsPermissionChecker) Resolve(_ context.Context, id auth.Identity, match *models.MatchState, req JoinRequest) (Grant, error) {
	role := req.Role
	if role == "" {
		role = auth.RoleSpectator
	}
	if !role.Valid() {
		return Grant{}, matcherr.Validation("unknown role",
			matcherr.FieldError{Field: "role", Message: "must be one of referee, coach, spectator"})
	}
	if role != auth.RoleSpectator && !id.HasRole(role) {
		return Grant{}, matcherr.Unauthorized("role %s is not granted to user %s", role, id.UserID)
	}

	var teamID string
	if role == auth.RoleCoach {
		teamID = req.TeamID
		if teamID == "" {
			teamID = id.TeamID
		}
		if !match.HasTeam(teamID) {
			return Grant{}, matcherr.Validation("coach must join for a participant team",
				matcherr.FieldError{Field: "teamId", Message: "is not a participant of the match"})
		}
		if id.TeamID != "" && id.TeamID != teamID {
			return Grant{}, matcherr.Unauthorized("user %s does not coach team %s", id.UserID, teamID)
		}
	}

	caps := append([]auth.Capability(nil), roleCapabilities[role]...)
	for _, p := range req.Permissions {
		if !id.HasPermission(p) {
			log.Debug().Str("user_id", id.UserID).Str("permission", p).Msg("requested permission not held")
			continue
		}
		for _, c := range permissionCapabilities[p] {
			if role == auth.RoleSpectator && hasCapability(refereeOnly, c) {
				log.Warn().
					Str("user_id", id.UserID).
					Str("permission", p).
					Str("capability", string(c)).
					Msg("referee-only capability withheld from spectator")
				continue
			}
			caps = appendMissing(caps, c)
		}
	}

	return Grant{Role: role, TeamID: teamID, Capabilities: caps}, nil
}

func appendMissing(caps []auth.Capability, more ...auth.Capability) []auth.Capability {
	for _, c := range more {
		if !hasCapability(caps, c) {
			caps = append(caps, c)
		}
	}
	return caps
}

func hasCapability(caps []auth.Capability, c auth.Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}
