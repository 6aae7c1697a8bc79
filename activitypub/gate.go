package activitypub

import (
	"time"

	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
)

// Gate is the federation settings authority: it answers eligibility
// questions and owns the only mutation path that also provisions or
// deactivates actors.
type Gate struct {
	db        *db.DB
	directory *Directory
}

func NewGate(database *db.DB, directory *Directory) *Gate {
	return &Gate{db: database, directory: directory}
}

// CanFederate reports whether a post participates in federation at all:
// the author opted in, the post opted in, and the post is published and
// not deleted.
func (g *Gate) CanFederate(post *domain.Post) (error, bool) {
	if !post.Published || post.Deleted {
		return nil, false
	}

	err, userSettings := g.db.ReadOrCreateUserSettings(post.AuthorId)
	if err != nil {
		return err, false
	}
	if !userSettings.FederationEnabled {
		return nil, false
	}

	err, postSettings := g.db.ReadOrCreatePostSettings(post.Id)
	if err != nil {
		return err, false
	}

	return nil, postSettings.ShouldFederate
}

// CanAutoAnnounce reports whether a sub boosts eligible posts automatically.
func (g *Gate) CanAutoAnnounce(sub *domain.Sub) (error, bool) {
	err, settings := g.db.ReadOrCreateSubSettings(sub.Id)
	if err != nil {
		return err, false
	}
	return nil, settings.FederationEnabled && settings.AutoAnnounce
}

// CanAnnounce reports whether a sub may announce at all (manual,
// moderator-initiated path).
func (g *Gate) CanAnnounce(sub *domain.Sub) (error, bool) {
	err, settings := g.db.ReadOrCreateSubSettings(sub.Id)
	if err != nil {
		return err, false
	}
	return nil, settings.FederationEnabled
}

// AcceptsRemotePosts reports whether a sub takes inbound Create activities.
func (g *Gate) AcceptsRemotePosts(sub *domain.Sub) (error, bool) {
	err, settings := g.db.ReadOrCreateSubSettings(sub.Id)
	if err != nil {
		return err, false
	}
	return nil, settings.FederationEnabled && settings.AcceptRemotePosts
}

// SetUserFederation toggles a user's participation. Enabling for the first
// time provisions the user's actor; disabling soft-disables it without
// touching history.
func (g *Gate) SetUserFederation(user *domain.User, enabled bool) (error, *domain.UserSettings) {
	err, settings := g.db.ReadOrCreateUserSettings(user.Id)
	if err != nil {
		return err, nil
	}

	if enabled {
		err, actor := g.directory.Ensure(domain.KindUser, user.Username)
		if err != nil {
			return err, nil
		}
		if !actor.Enabled {
			if err := g.directory.SetEnabled(actor, true); err != nil {
				return err, nil
			}
		}
		if settings.EnabledAt == nil {
			now := time.Now()
			settings.EnabledAt = &now
		}
	} else {
		err, actor := g.directory.Resolve(domain.KindUser, user.Username)
		if err == nil && actor != nil {
			if err := g.directory.SetEnabled(actor, false); err != nil {
				return err, nil
			}
		}
	}

	settings.FederationEnabled = enabled
	if err := g.db.UpdateUserSettings(settings); err != nil {
		return err, nil
	}
	return nil, settings
}

// SetSubFederation is the sub-scoped counterpart of SetUserFederation.
func (g *Gate) SetSubFederation(sub *domain.Sub, enabled bool, autoAnnounce bool, acceptRemotePosts bool) (error, *domain.SubSettings) {
	err, settings := g.db.ReadOrCreateSubSettings(sub.Id)
	if err != nil {
		return err, nil
	}

	if enabled {
		err, actor := g.directory.Ensure(domain.KindGroup, sub.Name)
		if err != nil {
			return err, nil
		}
		if !actor.Enabled {
			if err := g.directory.SetEnabled(actor, true); err != nil {
				return err, nil
			}
		}
		if settings.EnabledAt == nil {
			now := time.Now()
			settings.EnabledAt = &now
		}
	} else {
		err, actor := g.directory.Resolve(domain.KindGroup, sub.Name)
		if err == nil && actor != nil {
			if err := g.directory.SetEnabled(actor, false); err != nil {
				return err, nil
			}
		}
	}

	settings.FederationEnabled = enabled
	settings.AutoAnnounce = autoAnnounce
	settings.AcceptRemotePosts = acceptRemotePosts
	if err := g.db.UpdateSubSettings(settings); err != nil {
		return err, nil
	}
	return nil, settings
}

// SetPostFederation toggles a single post's opt-in flag.
func (g *Gate) SetPostFederation(post *domain.Post, shouldFederate bool) (error, *domain.PostSettings) {
	err, settings := g.db.ReadOrCreatePostSettings(post.Id)
	if err != nil {
		return err, nil
	}

	settings.ShouldFederate = shouldFederate
	if err := g.db.UpdatePostSettings(settings); err != nil {
		return err, nil
	}
	return nil, settings
}
