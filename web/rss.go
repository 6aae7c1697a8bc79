package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/feeds"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/util"
)

const rssFeedLimit = 50

// GetRSS renders the public feed of federated posts. Only posts the
// federation gate would also serve appear here.
func GetRSS(database *db.DB, conf *util.AppConfig) (string, error) {
	err, posts := database.ReadFederatedPublicPosts(rssFeedLimit)
	if err != nil || posts == nil {
		log.Println("Could not get federated posts!", err)
		return "", errors.New("error retrieving federated posts")
	}

	link := fmt.Sprintf("https://%s/feed", conf.Conf.Domain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - Federated Posts", conf.Conf.Domain),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("federated posts from %s", conf.Conf.Domain),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		email := fmt.Sprintf("%s@%s", post.Author, conf.Conf.Domain)
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      post.Id.String(),
				Title:   post.Title,
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/notes/%s", conf.Conf.Domain, post.Id)},
				Content: post.Body,
				Author:  &feeds.Author{Name: post.Author, Email: email},
				Created: post.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
