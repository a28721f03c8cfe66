package refresh

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjstillabower/yahooweather-binding/internal/channel"
	"github.com/kjstillabower/yahooweather-binding/internal/models"
)

// stateEnv carries what a conversion needs beyond the snapshot: time-only
// and date-only values are anchored in loc, with today taken from now.
type stateEnv struct {
	now time.Time
	loc *time.Location
}

type stateFunc func(s *models.Snapshot, env stateEnv) (channel.State, error)

var stateFuncs = map[channel.ID]stateFunc{
	channel.UnitsDistance:    str(func(s *models.Snapshot) *string { return s.Units().Distance() }),
	channel.UnitsPressure:    str(func(s *models.Snapshot) *string { return s.Units().Pressure() }),
	channel.UnitsSpeed:       str(func(s *models.Snapshot) *string { return s.Units().Speed() }),
	channel.UnitsTemperature: str(func(s *models.Snapshot) *string { return s.Units().Temperature() }),

	channel.WindChill:     dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Wind().ChillInCelsius() }),
	channel.WindDirection: dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Wind().Direction() }),
	channel.WindSpeed:     dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Wind().Speed() }),

	channel.AstronomySunrise: timeOfDay(func(s *models.Snapshot) (*models.TimeOfDay, error) { return s.Astronomy().Sunrise() }),
	channel.AstronomySunset:  timeOfDay(func(s *models.Snapshot) (*models.TimeOfDay, error) { return s.Astronomy().Sunset() }),

	channel.AtmosphereHumidity:   dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Atmosphere().Humidity() }),
	channel.AtmospherePressure:   dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Atmosphere().PressureInHPa() }),
	channel.AtmosphereRising:     dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Atmosphere().Rising() }),
	channel.AtmosphereVisibility: dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Atmosphere().Visibility() }),

	channel.LocationCity:      str(func(s *models.Snapshot) *string { return s.Location().City() }),
	channel.LocationCountry:   str(func(s *models.Snapshot) *string { return s.Location().Country() }),
	channel.LocationRegion:    str(func(s *models.Snapshot) *string { return s.Location().Region() }),
	channel.LocationLatitude:  dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Latitude() }),
	channel.LocationLongitude: dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Longitude() }),

	channel.MiscPublicationDate: instant(func(s *models.Snapshot) (*time.Time, error) { return s.PublicationDate() }),
	channel.MiscLanguageCode:    str(func(s *models.Snapshot) *string { return s.Language() }),

	channel.ConditionCode:        dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Condition().Code() }),
	channel.ConditionDate:        instant(func(s *models.Snapshot) (*time.Time, error) { return s.Condition().Date() }),
	channel.ConditionTemperature: dec(func(s *models.Snapshot) (*decimal.Decimal, error) { return s.Condition().Temperature() }),
	channel.ConditionText:        str(func(s *models.Snapshot) *string { return s.Condition().Text() }),
}

func init() {
	for day := 1; day <= channel.MaxForecasts; day++ {
		for _, field := range channel.ForecastFields {
			id, _ := channel.Forecast(day, field)
			stateFuncs[id] = forecastState(day, field)
		}
	}
}

func forecastState(day int, field channel.ForecastField) stateFunc {
	return func(s *models.Snapshot, env stateEnv) (channel.State, error) {
		f, ok := s.Forecast(day)
		if !ok {
			return channel.Undef, nil
		}
		switch field {
		case channel.ForecastCode:
			return decimalState(f.Code())
		case channel.ForecastDate:
			d, err := f.Date()
			if d == nil || err != nil {
				return channel.Undef, err
			}
			return channel.DateTimeState(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, env.loc)), nil
		case channel.ForecastWeekday:
			return channel.StringOrUndef(f.Day()), nil
		case channel.ForecastMin:
			return decimalState(f.LowTemperature())
		case channel.ForecastMax:
			return decimalState(f.HighTemperature())
		case channel.ForecastText:
			return channel.StringOrUndef(f.Text()), nil
		}
		return channel.Undef, nil
	}
}

func str(get func(*models.Snapshot) *string) stateFunc {
	return func(s *models.Snapshot, _ stateEnv) (channel.State, error) {
		return channel.StringOrUndef(get(s)), nil
	}
}

func dec(get func(*models.Snapshot) (*decimal.Decimal, error)) stateFunc {
	return func(s *models.Snapshot, _ stateEnv) (channel.State, error) {
		return decimalState(get(s))
	}
}

func decimalState(d *decimal.Decimal, err error) (channel.State, error) {
	if err != nil {
		return channel.Undef, err
	}
	return channel.DecimalOrUndef(d), nil
}

func instant(get func(*models.Snapshot) (*time.Time, error)) stateFunc {
	return func(s *models.Snapshot, _ stateEnv) (channel.State, error) {
		t, err := get(s)
		if err != nil {
			return channel.Undef, err
		}
		return channel.DateTimeOrUndef(t), nil
	}
}

// timeOfDay places a wall-clock value on today's date in env.loc.
func timeOfDay(get func(*models.Snapshot) (*models.TimeOfDay, error)) stateFunc {
	return func(s *models.Snapshot, env stateEnv) (channel.State, error) {
		t, err := get(s)
		if t == nil || err != nil {
			return channel.Undef, err
		}
		return channel.DateTimeState(t.On(env.now, env.loc)), nil
	}
}
