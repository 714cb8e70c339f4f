// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fusetesting_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fusebridge/fusebridge/fusetesting"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestStat(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type StatTest struct {
	dir string
}

func init() { RegisterTestSuite(&StatTest{}) }

func (t *StatTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = os.MkdirTemp("", "fusetesting_stat_test")
	AssertEq(nil, err)
}

func (t *StatTest) TearDown() {
	os.RemoveAll(t.dir)
}

////////////////////////////////////////////////////////////////////////
// Test cases
////////////////////////////////////////////////////////////////////////

func (t *StatTest) MtimeMatchesExactStat() {
	p := filepath.Join(t.dir, "foo")
	AssertEq(nil, os.WriteFile(p, []byte("xyz"), 0644))

	mtime := time.Date(2020, time.March, 15, 4, 5, 6, 0, time.UTC)
	AssertEq(nil, os.Chtimes(p, mtime, mtime))

	fi, err := os.Stat(p)
	AssertEq(nil, err)

	ExpectThat(fi, fusetesting.MtimeIs(mtime))
}

func (t *StatTest) MtimeDoesNotMatchWrongStat() {
	p := filepath.Join(t.dir, "bar")
	AssertEq(nil, os.WriteFile(p, []byte("xyz"), 0644))

	mtime := time.Date(2020, time.March, 15, 4, 5, 6, 0, time.UTC)
	AssertEq(nil, os.Chtimes(p, mtime, mtime))

	fi, err := os.Stat(p)
	AssertEq(nil, err)

	ExpectThat(fi, Not(fusetesting.MtimeIs(mtime.Add(time.Hour))))
}

func (t *StatTest) BirthtimeAlwaysMatchesOnLinux() {
	p := filepath.Join(t.dir, "baz")
	AssertEq(nil, os.WriteFile(p, []byte("xyz"), 0644))

	fi, err := os.Stat(p)
	AssertEq(nil, err)

	ExpectThat(fi, fusetesting.BirthtimeIs(time.Now()))
}
