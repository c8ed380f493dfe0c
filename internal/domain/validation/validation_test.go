package validation_test

import (
	"errors"
	"testing"

	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/validation"
	. "github.com/smartystreets/goconvey/convey"
)

func catalog() validation.Catalog {
	return validation.Catalog{
		Forces:    []string{"LLA", "Fuerza Patria", "FIT", "Unión Federal"},
		Provinces: []string{"CABA", "Buenos Aires", "Córdoba"},
		ForcesByProvince: map[string][]string{
			"CABA": {"LLA", "Fuerza Patria", "FIT"},
		},
	}
}

func national(kv ...any) model.Percentages {
	var ps model.Percentages
	for i := 0; i < len(kv); i += 2 {
		ps.Set(kv[i].(string), model.Pct(float64(kv[i+1].(int))))
	}
	return ps
}

func valid() *model.Prediction {
	return &model.Prediction{
		Username: "Tester",
		Email:    "tester@example.com",
		TopThree: []string{"LLA", "Fuerza Patria"},
		National: national("LLA", 45, "Fuerza Patria", 40, "FIT", 15),
	}
}

func field(err error) string {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}

func TestPrediction(t *testing.T) {
	v := validation.New(catalog())

	Convey("Given a well formed prediction", t, func() {
		p := valid()

		Convey("Then it passes", func() {
			So(v.Prediction(p), ShouldBeNil)
		})

		Convey("When it only carries a name", func() {
			p.TopThree = nil
			p.National = nil
			So(v.Prediction(p), ShouldBeNil)
		})
	})

	Convey("Given broken national percentages", t, func() {
		cases := []struct {
			name string
			ps   model.Percentages
		}{
			{"an unknown force", national("LLA", 50, "Otro", 50)},
			{"a value above 100", national("LLA", 101)},
			{"a negative value", national("LLA", -1, "FIT", 100)},
			{"a sum below 95", national("LLA", 40, "FIT", 40)},
			{"a sum above 105", national("LLA", 60, "FIT", 50)},
			{"a non-numeric value", model.Percentages{{Force: "LLA", Percent: model.ParsePercent([]byte(`"x"`))}}},
		}
		for _, c := range cases {
			Convey("When it has "+c.name, func() {
				p := valid()
				p.National = c.ps
				err := v.Prediction(p)

				So(errors.Is(err, validation.ErrInvalid), ShouldBeTrue)
				So(field(err), ShouldEqual, "national_percentages")
			})
		}
	})

	Convey("Given a top-3", t, func() {
		p := valid()

		Convey("When it lists four forces", func() {
			p.TopThree = []string{"LLA", "Fuerza Patria", "FIT", "Unión Federal"}
			So(field(v.Prediction(p)), ShouldEqual, "top3")
		})

		Convey("When it repeats a force", func() {
			p.TopThree = []string{"LLA", "LLA"}
			So(field(v.Prediction(p)), ShouldEqual, "top3")
		})

		Convey("When it names an unknown force", func() {
			p.TopThree = []string{"Nadie"}
			So(field(v.Prediction(p)), ShouldEqual, "top3")
		})
	})

	Convey("Given scalar figures", t, func() {
		p := valid()

		Convey("When participation is out of range", func() {
			p.Participation = model.Pct(120)
			So(field(v.Prediction(p)), ShouldEqual, "participation")
		})

		Convey("When the margin is negative", func() {
			p.MarginTopTwo = model.Pct(-3)
			So(field(v.Prediction(p)), ShouldEqual, "margin_1_2")
		})

		Convey("When total votes are negative", func() {
			n := int64(-1)
			p.TotalVotes = &n
			So(field(v.Prediction(p)), ShouldEqual, "total_votes")
		})

		Convey("When figures are missing", func() {
			So(v.Prediction(p), ShouldBeNil)
		})
	})

	Convey("Given provincial forecasts", t, func() {
		p := valid()

		Convey("When CABA names a force outside its own list", func() {
			p.Provinces = map[string]model.ProvinceForecast{
				"CABA": {Percentages: national("Unión Federal", 10), Winner: "Unión Federal"},
			}
			err := v.Prediction(p)

			Convey("Then it is rejected with the province named", func() {
				So(field(err), ShouldEqual, "provinciales")
				So(err.Error(), ShouldContainSubstring, "Unión Federal")
				So(err.Error(), ShouldContainSubstring, "CABA")
			})
		})

		Convey("When CABA uses allowed forces", func() {
			p.Provinces = map[string]model.ProvinceForecast{
				"CABA": {Percentages: national("LLA", 35, "Fuerza Patria", 40), Winner: "Fuerza Patria"},
			}
			So(v.Prediction(p), ShouldBeNil)
		})

		Convey("When a province without its own list uses a national force", func() {
			p.Provinces = map[string]model.ProvinceForecast{
				"Córdoba": {Percentages: national("Unión Federal", 20), Winner: "Unión Federal"},
			}
			So(v.Prediction(p), ShouldBeNil)
		})

		Convey("When the province is unknown", func() {
			p.Provinces = map[string]model.ProvinceForecast{"Atlantis": {}}
			So(field(v.Prediction(p)), ShouldEqual, "provinciales")
		})

		Convey("When the winner is not allowed", func() {
			p.Provinces = map[string]model.ProvinceForecast{"CABA": {Winner: "Unión Federal"}}
			So(field(v.Prediction(p)), ShouldEqual, "provinciales")
		})
	})

	Convey("Given bonus answers", t, func() {
		p := valid()

		Convey("When they name known provinces or are blank", func() {
			p.Bonus = model.Bonus{"mas_renida": "Córdoba", "fit_mayor": ""}
			So(v.Prediction(p), ShouldBeNil)
		})

		Convey("When one names an unknown province", func() {
			p.Bonus = model.Bonus{"cambia_ganador": "Narnia"}
			So(field(v.Prediction(p)), ShouldEqual, "bonus")
		})
	})

	Convey("Given missing identity", t, func() {
		p := valid()
		p.Email = ""
		So(field(v.Prediction(p)), ShouldEqual, "email")
		p.Username = ""
		So(field(v.Prediction(p)), ShouldEqual, "username")
	})
}

func TestResult(t *testing.T) {
	v := validation.New(catalog())

	Convey("Given an official result", t, func() {
		o := &model.OfficialResult{National: national("LLA", 41, "Fuerza Patria", 34, "FIT", 25)}

		Convey("Then a consistent result passes", func() {
			So(v.Result(o), ShouldBeNil)
		})

		Convey("Then an out-of-range participation is rejected", func() {
			o.Participation = model.Pct(101)
			So(field(v.Result(o)), ShouldEqual, "participation")
		})
	})
}

func TestEmptyCatalog(t *testing.T) {
	Convey("Given a validator without a catalog", t, func() {
		v := validation.New(validation.Catalog{})

		Convey("Then any force or province name is accepted", func() {
			p := valid()
			p.TopThree = []string{"X", "Y"}
			p.National = national("X", 60, "Y", 40)
			p.Provinces = map[string]model.ProvinceForecast{"Anywhere": {Winner: "X"}}
			So(v.Prediction(p), ShouldBeNil)
		})
	})
}
