package web

import (
	"errors"
	"fmt"
	"strings"

	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// ErrMalformedResource means the query could not be parsed at all (400);
// anything parseable but unknown answers 404 instead.
var ErrMalformedResource = errors.New("malformed webfinger resource")

// JRD is the webfinger response document.
type JRD struct {
	Subject string    `json:"subject"`
	Aliases []string  `json:"aliases,omitempty"`
	Links   []JRDLink `json:"links"`
}

type JRDLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// ParseResource maps a webfinger resource query to an actor kind and name.
// Accepted forms:
//
//	acct:alice@domain          -> user alice
//	acct:!golang@domain        -> group golang
//	acct:domain@domain         -> instance actor
//	https://domain/actor       -> instance actor (literal URI form)
//
// The domain part must be the public or the API domain.
func ParseResource(resource string, conf *util.AppConfig) (domain.ActorKind, string, error) {
	if resource == "" {
		return "", "", ErrMalformedResource
	}

	if !strings.HasPrefix(resource, "acct:") {
		// Literal URI form only resolves the instance actor.
		for _, host := range []string{conf.Conf.Domain, conf.ApiDomainOrDefault()} {
			if resource == fmt.Sprintf("https://%s/actor", host) {
				return domain.KindInstance, "", nil
			}
		}
		if strings.HasPrefix(resource, "https://") || strings.HasPrefix(resource, "http://") {
			return "", "", fmt.Errorf("unknown resource URI %s", resource)
		}
		return "", "", ErrMalformedResource
	}

	acct := strings.TrimPrefix(resource, "acct:")
	acct = strings.TrimPrefix(acct, "@")

	parts := strings.Split(acct, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrMalformedResource
	}
	name, host := parts[0], parts[1]

	if host != conf.Conf.Domain && host != conf.ApiDomainOrDefault() {
		return "", "", fmt.Errorf("resource domain %s is not served here", host)
	}

	// The instance actor answers to its own domain as the name.
	if name == conf.Conf.Domain || name == conf.ApiDomainOrDefault() {
		return domain.KindInstance, "", nil
	}

	if group, found := strings.CutPrefix(name, "!"); found {
		if group == "" {
			return "", "", ErrMalformedResource
		}
		return domain.KindGroup, group, nil
	}

	return domain.KindUser, name, nil
}

// BuildJRD renders the webfinger document for a resolved local actor.
func BuildJRD(actor *domain.Actor, conf *util.AppConfig) *JRD {
	var subject string
	switch actor.Kind {
	case domain.KindInstance:
		subject = fmt.Sprintf("acct:%s@%s", conf.Conf.Domain, conf.Conf.Domain)
	case domain.KindGroup:
		subject = fmt.Sprintf("acct:!%s@%s", actor.Username, conf.Conf.Domain)
	default:
		subject = fmt.Sprintf("acct:%s@%s", actor.Username, conf.Conf.Domain)
	}

	return &JRD{
		Subject: subject,
		Aliases: []string{actor.ActorURI},
		Links: []JRDLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actor.ActorURI,
			},
		},
	}
}
