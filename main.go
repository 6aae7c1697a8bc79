package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/subverse/subverse/activitypub"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/util"
	"github.com/subverse/subverse/web"
)

const databaseFileName = "subverse.db"

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(util.ResolveFilePath(databaseFileName))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	log.Println("Running database migrations...")
	if err := database.RunMigrations(); err != nil {
		log.Fatalln(err)
	}
	log.Println("Database migrations complete")

	directory := activitypub.NewDirectory(database, conf)
	gate := activitypub.NewGate(database, directory)
	collections := activitypub.NewCollections(database, conf, gate)
	remotes := activitypub.NewRemoteActors(database, conf)
	outbox := activitypub.NewOutbox(database, conf, collections)
	inbox := activitypub.NewInbox(database, conf, remotes, outbox, gate, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Conf.WithAp {
		if err, actor := directory.EnsureInstanceActor(); err != nil {
			log.Fatalln(err)
		} else {
			log.Printf("Instance actor ready at %s", actor.ActorURI)
		}

		worker := activitypub.NewDeliveryWorker(database, conf)
		go worker.Start(ctx)
	}

	server := web.NewServer(conf, database, directory, collections, gate, inbox, outbox)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping federation server")
	cancel()
}
