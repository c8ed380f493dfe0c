package api_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/prode/internal/adapters/http/api"
	"github.com/okian/prode/internal/adapters/repository"
	service "github.com/okian/prode/internal/app"
	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/ranking"
	"github.com/okian/prode/internal/domain/types"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const adminToken = "s3cret"

var catalog = validation.Catalog{
	Forces:           []string{"UxP", "LLA", "JxC", "FIT"},
	Provinces:        []string{"CABA", "Córdoba"},
	ForcesByProvince: map[string][]string{"CABA": {"LLA", "UxP"}},
}

func newService(opts ...service.Option) *service.Service {
	base := []service.Option{service.WithLogger(logger.Nop()), service.WithCatalog(catalog)}
	return service.New(repository.NewMemoryStore(), append(base, opts...)...)
}

func newMux(deps api.Dependencies, stats api.StatsProvider, token string) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, stats, api.WithAdminToken(token)).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func asAdmin() []string { return []string{"Authorization", "Bearer " + adminToken} }

func decode(w *httptest.ResponseRecorder) map[string]any {
	var m map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &m), ShouldBeNil)
	return m
}

const anaPrediction = `{
	"username": "Ana",
	"email": " Ana@Example.com ",
	"top3": ["LLA", "UxP", "JxC"],
	"national_percentages": {"LLA": 40, "UxP": "35", "JxC": 25},
	"participation": 70,
	"margin_1_2": 5,
	"id": "client-chosen",
	"sync_pending": true
}`

const betoPrediction = `{
	"username": "Beto",
	"email": "beto@example.com",
	"top3": ["UxP", "LLA", "JxC"],
	"national_percentages": {"LLA": 35, "UxP": 40, "JxC": 25},
	"participation": 70,
	"margin_1_2": 5
}`

const officialBody = `{
	"national_percentages": {"LLA": 40, "UxP": 35, "JxC": 25},
	"participation": 70,
	"margin_1_2": 5,
	"is_published": true
}`

func TestServer_PublicRoutes(t *testing.T) {
	Convey("Given an API server over a fresh service", t, func() {
		svc := newService()
		mux := newMux(svc, svc, adminToken)

		Convey("When probing health", func() {
			w := do(mux, http.MethodGet, "/healthz", "")

			Convey("Then it reports ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["status"], ShouldEqual, "ok")
				So(body["db"], ShouldEqual, "ok")
				So(body["open"], ShouldEqual, true)
			})
		})

		Convey("When scraping metrics", func() {
			do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")

			Convey("Then the prode collectors are exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "prode_")
			})
		})

		Convey("When reading stats", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["started"], ShouldEqual, false)
		})

		Convey("When reading metadata", func() {
			w := do(mux, http.MethodGet, "/metadata", "")

			Convey("Then the sorted catalog is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var md types.Metadata
				So(json.Unmarshal(w.Body.Bytes(), &md), ShouldBeNil)
				So(md.Forces, ShouldResemble, []string{"FIT", "JxC", "LLA", "UxP"})
				So(md.ForcesByProvince["CABA"], ShouldResemble, []string{"LLA", "UxP"})
				So(md.ForcesByProvince["CABA"], ShouldNotContain, "FIT")
				So(md.Open, ShouldBeTrue)
			})
		})

		Convey("When using the wrong method", func() {
			So(do(mux, http.MethodDelete, "/ranking", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/predictions", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_Predictions(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc := newService()
		mux := newMux(svc, svc, adminToken)

		Convey("When a valid prediction is posted", func() {
			w := do(mux, http.MethodPost, "/predictions", anaPrediction)

			Convey("Then it is created with server-managed fields", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var p model.Prediction
				So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)
				So(p.Email, ShouldEqual, "ana@example.com")
				So(p.ID, ShouldNotEqual, "client-chosen")
				So(p.National.Forces(), ShouldResemble, []string{"LLA", "UxP", "JxC"})
				v, _ := p.National.Get("UxP")
				So(v, ShouldResemble, model.Pct(35))
			})

			Convey("Then it can be read back", func() {
				w := do(mux, http.MethodGet, "/predictions/mine?email=ANA@example.com", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["username"], ShouldEqual, "Ana")

				w = do(mux, http.MethodGet, "/predictions/mine?email=ana@example.com&soft=1", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["exists"], ShouldEqual, true)
				So(body["prediction"].(map[string]any)["email"], ShouldEqual, "ana@example.com")
			})

			Convey("And a second post carries only username and email", func() {
				w := do(mux, http.MethodPost, "/predictions", `{"username":"Ana2","email":"ana@example.com"}`)
				So(w.Code, ShouldEqual, http.StatusCreated)

				Convey("Then the omitted fields keep their stored values", func() {
					w := do(mux, http.MethodGet, "/predictions/mine?email=ana@example.com", "")
					So(w.Code, ShouldEqual, http.StatusOK)
					var p model.Prediction
					So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)
					So(p.Username, ShouldEqual, "Ana2")
					So(p.TopThree, ShouldResemble, []string{"LLA", "UxP", "JxC"})
					So(p.National.Forces(), ShouldResemble, []string{"LLA", "UxP", "JxC"})
					v, _ := p.National.Get("LLA")
					So(v, ShouldResemble, model.Pct(40))
					So(p.Participation, ShouldResemble, model.Pct(70))
				})
			})

			Convey("And a second post sends an explicit null", func() {
				w := do(mux, http.MethodPost, "/predictions", `{"email":"ana@example.com","participation":null}`)
				So(w.Code, ShouldEqual, http.StatusCreated)

				Convey("Then that field is cleared and the rest are kept", func() {
					var p model.Prediction
					So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)
					So(p.Participation.Valid, ShouldBeFalse)
					So(p.Username, ShouldEqual, "Ana")
					So(p.MarginTopTwo, ShouldResemble, model.Pct(5))
				})
			})

			Convey("Then it is listed as a player", func() {
				w := do(mux, http.MethodGet, "/players", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var players types.Players
				So(json.Unmarshal(w.Body.Bytes(), &players), ShouldBeNil)
				So(players.Usernames, ShouldResemble, []string{"Ana"})
				So(players.CountTotal, ShouldEqual, 1)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(mux, http.MethodPost, "/predictions", "{nope")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, "bad_request")
		})

		Convey("When the prediction fails validation", func() {
			w := do(mux, http.MethodPost, "/predictions", `{"username":"Ana","email":"a@b.c","top3":["LLA","Nope"]}`)

			Convey("Then the failing field is reported", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode(w)
				So(body["code"], ShouldEqual, "invalid")
				So(body["field"], ShouldEqual, "top3")
				So(body["message"], ShouldContainSubstring, "Nope")
			})
		})

		Convey("When a province lists a force not running there", func() {
			w := do(mux, http.MethodPost, "/predictions",
				`{"username":"Ana","email":"a@b.c","provinciales":{"CABA":{"porcentajes":{"FIT":10}}}}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["field"], ShouldEqual, "provinciales")
		})

		Convey("When looking up a prediction that does not exist", func() {
			So(do(mux, http.MethodGet, "/predictions/mine?email=x@y.z", "").Code, ShouldEqual, http.StatusNotFound)

			w := do(mux, http.MethodGet, "/predictions/mine?email=x@y.z&soft=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["exists"], ShouldEqual, false)
			So(body["prediction"], ShouldBeNil)
		})

		Convey("When looking up without an email", func() {
			So(do(mux, http.MethodGet, "/predictions/mine", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("Given an API server past its deadline", t, func() {
		deadline := time.Date(2025, 10, 26, 18, 0, 0, 0, time.UTC)
		svc := newService(
			service.WithDeadline(deadline),
			service.WithClock(func() time.Time { return deadline.Add(time.Hour) }),
		)
		mux := newMux(svc, svc, adminToken)

		Convey("When a prediction is posted", func() {
			w := do(mux, http.MethodPost, "/predictions", anaPrediction)

			Convey("Then it is forbidden", func() {
				So(w.Code, ShouldEqual, http.StatusForbidden)
				So(decode(w)["code"], ShouldEqual, "deadline_passed")
			})
		})

		Convey("Then reads still work", func() {
			So(do(mux, http.MethodGet, "/metadata", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodGet, "/predictions/mine?email=x@y.z&soft=1", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestServer_ResultsAndRanking(t *testing.T) {
	Convey("Given two stored predictions", t, func() {
		svc := newService()
		mux := newMux(svc, svc, adminToken)
		So(do(mux, http.MethodPost, "/predictions", anaPrediction).Code, ShouldEqual, http.StatusCreated)
		So(do(mux, http.MethodPost, "/predictions", betoPrediction).Code, ShouldEqual, http.StatusCreated)

		Convey("When nothing is published", func() {
			w := do(mux, http.MethodGet, "/results", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["published"], ShouldEqual, false)
			So(body["result"], ShouldBeNil)
			So(body["top3"], ShouldBeEmpty)

			w = do(mux, http.MethodGet, "/ranking", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"count":0,"results":[]}`)
		})

		Convey("When the admin publishes a result", func() {
			w := do(mux, http.MethodPost, "/admin/results", officialBody, asAdmin()...)
			So(w.Code, ShouldEqual, http.StatusCreated)

			Convey("Then it becomes the current result", func() {
				w := do(mux, http.MethodGet, "/results", "")
				body := decode(w)
				So(body["published"], ShouldEqual, true)
				So(body["top3"], ShouldResemble, []any{"LLA", "UxP", "JxC"})
			})

			Convey("Then the ranking orders the players", func() {
				w := do(mux, http.MethodGet, "/ranking", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var rk ranking.Ranking
				So(json.Unmarshal(w.Body.Bytes(), &rk), ShouldBeNil)
				So(rk.Count, ShouldEqual, 2)
				So(rk.Results[0].Username, ShouldEqual, "Ana")
				So(rk.Results[0].Score, ShouldEqual, 100)
				So(rk.Results[1].Username, ShouldEqual, "Beto")
				So(rk.Results[1].Score, ShouldEqual, 91.67)
			})

			Convey("Then the ranking can be filtered", func() {
				w := do(mux, http.MethodGet, "/ranking?q=BET", "")
				var rk ranking.Ranking
				So(json.Unmarshal(w.Body.Bytes(), &rk), ShouldBeNil)
				So(rk.Count, ShouldEqual, 1)
				So(rk.Results[0].Position, ShouldEqual, 1)
			})

			Convey("Then the ranking exports as CSV", func() {
				w := do(mux, http.MethodGet, "/admin/export/ranking.csv", "", asAdmin()...)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "text/csv")
				records, err := csv.NewReader(w.Body).ReadAll()
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 3)
				So(records[0][0], ShouldEqual, "position")
				So(records[1][:4], ShouldResemble, []string{"1", "Ana", "ana@example.com", "100.00"})
				So(records[2][3], ShouldEqual, "91.67")
			})

			Convey("Then the overview summarises scores", func() {
				w := do(mux, http.MethodGet, "/admin/overview", "", asAdmin()...)
				So(w.Code, ShouldEqual, http.StatusOK)
				var ov types.Overview
				So(json.Unmarshal(w.Body.Bytes(), &ov), ShouldBeNil)
				So(ov.Predictions, ShouldEqual, 2)
				So(ov.Published, ShouldBeTrue)
				So(ov.Scores.Count, ShouldEqual, 2)
				So(ov.Scores.Max, ShouldEqual, 100)
				So(ov.Scores.Median, ShouldEqual, 91.67)
			})
		})

		Convey("When the admin publishes an invalid result", func() {
			w := do(mux, http.MethodPost, "/admin/results", `{"participation": 120, "is_published": true}`, asAdmin()...)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["field"], ShouldEqual, "participation")
		})
	})
}

func TestServer_Admin(t *testing.T) {
	Convey("Given an API server with an admin token", t, func() {
		svc := newService()
		mux := newMux(svc, svc, adminToken)

		Convey("When the token is missing or wrong", func() {
			w := do(mux, http.MethodGet, "/admin/overview", "")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(w.Header().Get("WWW-Authenticate"), ShouldContainSubstring, "Bearer")

			w = do(mux, http.MethodGet, "/admin/overview", "", "Authorization", "Bearer nope")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)

			w = do(mux, http.MethodPost, "/admin/results", officialBody)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When retrying sync before the service started", func() {
			w := do(mux, http.MethodPost, "/admin/retry-sync", "", asAdmin()...)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When retrying sync with no sink configured", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop(context.Background())
			w := do(mux, http.MethodPost, "/admin/retry-sync", "", asAdmin()...)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decode(w)["code"], ShouldEqual, "sync_disabled")
		})
	})

	Convey("Given an API server without an admin token", t, func() {
		svc := newService()
		mux := newMux(svc, svc, "")

		Convey("Then admin routes are disabled", func() {
			w := do(mux, http.MethodGet, "/admin/overview", "", "Authorization", "Bearer ")
			So(w.Code, ShouldEqual, http.StatusForbidden)
			So(decode(w)["code"], ShouldEqual, "admin_disabled")
		})
	})
}

// failingDeps answers every call with an error.
type failingDeps struct{ err error }

func (f failingDeps) SubmitPrediction(context.Context, *model.Prediction, ...string) (model.Prediction, error) {
	return model.Prediction{}, f.err
}

func (f failingDeps) MyPrediction(context.Context, string) (model.Prediction, error) {
	return model.Prediction{}, f.err
}

func (f failingDeps) CurrentResult(context.Context) (*model.OfficialResult, error) { return nil, f.err }

func (f failingDeps) PublishResult(context.Context, *model.OfficialResult) (model.OfficialResult, error) {
	return model.OfficialResult{}, f.err
}

func (f failingDeps) Ranking(context.Context, string) (ranking.Ranking, error) {
	return ranking.Ranking{}, f.err
}

func (f failingDeps) Metadata() types.Metadata { return types.Metadata{} }
func (f failingDeps) Players(context.Context) (types.Players, error) { return types.Players{}, f.err }
func (f failingDeps) Overview(context.Context) (types.Overview, error) { return types.Overview{}, f.err }
func (f failingDeps) RetrySync(context.Context) (int, error) { return 0, f.err }
func (f failingDeps) Ping(context.Context) error { return f.err }
func (f failingDeps) Open() bool { return true }
func (f failingDeps) GetStats() map[string]interface{} { return map[string]interface{}{} }

func TestServer_InternalErrors(t *testing.T) {
	Convey("Given dependencies that fail", t, func() {
		deps := failingDeps{err: errors.New("disk on fire")}
		mux := newMux(deps, deps, adminToken)

		Convey("Then reads answer 500 without leaking the cause", func() {
			for _, target := range []string{"/ranking", "/results", "/players", "/predictions/mine?email=a@b.c"} {
				w := do(mux, http.MethodGet, target, "")
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldNotContainSubstring, "disk on fire")
			}
			w := do(mux, http.MethodGet, "/admin/overview", "", asAdmin()...)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("Then health reports the store as down", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode(w)["status"], ShouldEqual, "degraded")
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("boom")

		Convey("Then kinds and causes are both matchable", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("Then NewKind and Wrap format their parts", func() {
			So(api.NewKind("api.op", api.ErrNotFound).Error(), ShouldEqual, "api.op: not found")
			So(api.Wrap("api.op", cause).Error(), ShouldEqual, "api.op: boom")
			So(api.Wrap("api.op", nil), ShouldBeNil)
		})
	})
}
