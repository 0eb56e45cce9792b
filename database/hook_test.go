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

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableFromQuery(t *testing.T) {
	cases := map[string]string{
		`INSERT INTO "users" ("id", "name") VALUES (1, 'a')`:         "users",
		`INSERT INTO users(id,name) VALUES (1,'a')`:                   "users",
		`UPDATE "users" AS "user" SET "name" = 'b' WHERE ("id" = 1)`: "users",
		`DELETE FROM "users" AS "user" WHERE (1 = 1)`:                "users",
		`TRUNCATE TABLE "public"."items"`:                             "items",
		`DROP TABLE IF EXISTS items;`:                                 "items",
		`SELECT 1`:                                                    "",
	}
	for query, want := range cases {
		assert.Equal(t, want, tableFromQuery(query), query)
	}
}

func TestIsWriteOperation(t *testing.T) {
	for _, op := range []string{"INSERT", "UPDATE", "DELETE", "TRUNCATE TABLE", "DROP TABLE", "MERGE"} {
		assert.True(t, isWriteOperation(op), op)
	}
	for _, op := range []string{"SELECT", "CREATE TABLE", "BEGIN", "COMMIT", ""} {
		assert.False(t, isWriteOperation(op), op)
	}
}
