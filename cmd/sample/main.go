/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomoncle/burrow"
	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/repository"
	"github.com/tomoncle/burrow/types"
	"github.com/tomoncle/burrow/utils"
	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`
	repository.AutoIncrementPK

	ID    int64  `bun:"id,pk"`
	Name  string `bun:"name,notnull"`
	Email string `bun:"email"`
	Age   int    `bun:"age"`
}

type Item struct {
	bun.BaseModel `bun:"table:items"`
	repository.AutoIncrementPK

	ID     int64  `bun:"id,pk"`
	UserID int64  `bun:"user_id"`
	Label  string `bun:"label"`
}

// Note has no primary key; Save always inserts it.
type Note struct {
	bun.BaseModel `bun:"table:notes"`

	Text string `bun:"text"`
}

var logger = utils.NewLogger("SAMPLE")

func main() {
	_ = godotenv.Load()
	utils.ConfigureConsoleLogFormat(utils.EnvDefaultString("BURROW_LOG_FORMAT", "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		logger.WithError(err).Error("sample failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	database.RegisteredModel(database.NewModelAdapter(&User{}, 0))
	database.RegisteredModel(database.NewModelAdapter(&Item{}, 1))
	database.RegisteredModel(database.NewModelAdapter(&Note{}, 2))

	registry := database.GetRegistry()
	registry.Debug = utils.EnvDefaultBool("BURROW_DEBUG", false)
	if path := os.Getenv("BURROW_ROUTING_FILE"); path != "" {
		routing, err := database.LoadRoutingFile(path)
		if err != nil {
			return err
		}
		if err := registry.ApplyRouting(routing); err != nil {
			return err
		}
	} else {
		cfg := database.NewSQLiteConfig("sample", utils.EnvDefaultString("BURROW_SQLITE_PATH", "sample"))
		if err := database.InitModule(cfg, &User{}, &Item{}); err != nil {
			return err
		}
	}
	defer func() { _ = database.CloseAll() }()

	if addr := os.Getenv("BURROW_METRICS_ADDR"); addr != "" {
		go serveMetrics(addr)
	}

	users := burrow.NewService[User]()
	watch := users.WatchChanges(ctx, nil)
	defer watch.Close()

	initial := <-watch.C()
	logger.Infof("watching %d users", len(initial.Result))

	batch := []*User{
		{Name: "ada", Email: "ada@example.com", Age: 36},
		{Name: "linus", Email: "linus@example.com", Age: 28},
	}
	if err := users.Save(ctx, batch...); err != nil {
		return err
	}
	logger.Infof("saved users %d and %d", batch[0].ID, batch[1].ID)

	select {
	case cs := <-watch.C():
		logger.Infof("%s: %d inserted, %d changed, %d deleted", cs.State.Name(), len(cs.Insert), len(cs.Change), len(cs.Delete))
	case <-time.After(5 * time.Second):
		logger.Warn("no change set received")
	}

	if err := burrow.SaveAll(ctx, &Item{UserID: batch[0].ID, Label: "notebook"}, &Item{UserID: batch[0].ID, Label: "pen"}); err != nil {
		return err
	}
	byUser, err := burrow.GroupBy[Item, int64](ctx, "user_id", nil)
	if err != nil {
		return err
	}
	logger.Infof("user %d owns %d items", batch[0].ID, len(byUser[batch[0].ID]))

	if err := burrow.Save(ctx, &Note{Text: "hello"}); err != nil {
		return err
	}

	older, err := users.Sorted(ctx, []types.Order{types.Desc("age")}, types.Where("age > ?", 30), types.All)
	if err != nil {
		return err
	}
	logger.Infof("%d users older than 30", len(older))

	if err := burrow.Create(ctx, batch[0]); errors.Is(err, database.ErrPrimaryKeyConstraint) {
		logger.Infof("duplicate create rejected: %v", err)
	}

	done := make(chan struct{})
	burrow.QueryAllAsync[User](ctx, func(all []*User, err error) {
		defer close(done)
		if err != nil {
			logger.WithError(err).Error("async query failed")
			return
		}
		logger.Infof("async query returned %d users", len(all))
	})
	<-done

	fmt.Println(database.FindConfig(&User{}))
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("metrics server stopped")
	}
}
