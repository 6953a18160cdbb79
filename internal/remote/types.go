package remote

import (
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []graphQLError `json:"errors,omitempty"`
}

type wireAddress struct {
	StreetAddress string `json:"streetAddress"`
	Locality      string `json:"locality"`
	Region        string `json:"region"`
	CountryName   string `json:"countryName"`
	PostalCode    string `json:"postalCode"`
}

type wireGeolocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type wireSpace struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ExactType   string      `json:"exactType"`
	DateCreated string      `json:"dateCreated"`
	DateUpdated string      `json:"dateUpdated"`
	Points      []wirePoint `json:"points"`
}

type wireFloor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ExactType   string      `json:"exactType"`
	Level       *int        `json:"level"`
	DateCreated string      `json:"dateCreated"`
	DateUpdated string      `json:"dateUpdated"`
	Spaces      []wireSpace `json:"spaces"`
	Points      []wirePoint `json:"points"`
}

type wireBuilding struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	ExactType   string           `json:"exactType"`
	TimeZone    string           `json:"timeZone"`
	Type        []string         `json:"type"`
	Address     *wireAddress     `json:"address"`
	Geolocation *wireGeolocation `json:"geolocation"`
	DateCreated string           `json:"dateCreated"`
	DateUpdated string           `json:"dateUpdated"`
	Floors      []wireFloor      `json:"floors"`
	Points      []wirePoint      `json:"points"`
}

type wireSite struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Buildings []wireBuilding `json:"buildings"`
}

type wireUnit struct {
	Name string `json:"name"`
}

type wirePoint struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	ExactType   string           `json:"exactType"`
	Unit        *wireUnit        `json:"unit"`
	Series      []models.Reading `json:"series"`
}

type buildingsData struct {
	Buildings []wireBuilding `json:"buildings"`
}

type sitesData struct {
	Sites []wireSite `json:"sites"`
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (w wireBuilding) toModel() models.Building {
	b := models.Building{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		ExactType:   w.ExactType,
		TimeZone:    w.TimeZone,
		Types:       w.Type,
		DateCreated: parseTime(w.DateCreated),
		DateUpdated: parseTime(w.DateUpdated),
	}
	if w.Address != nil {
		b.Address = models.Address{
			Street:     w.Address.StreetAddress,
			City:       w.Address.Locality,
			State:      w.Address.Region,
			Country:    w.Address.CountryName,
			PostalCode: w.Address.PostalCode,
		}
	}
	if w.Geolocation != nil {
		b.Latitude = w.Geolocation.Latitude
		b.Longitude = w.Geolocation.Longitude
	}
	for _, wf := range w.Floors {
		f := models.Floor{
			ID:          wf.ID,
			BuildingID:  w.ID,
			Name:        wf.Name,
			Description: wf.Description,
			ExactType:   wf.ExactType,
			Level:       wf.Level,
			DateCreated: parseTime(wf.DateCreated),
			DateUpdated: parseTime(wf.DateUpdated),
		}
		for _, ws := range wf.Spaces {
			f.Spaces = append(f.Spaces, models.Space{
				ID:          ws.ID,
				FloorID:     wf.ID,
				BuildingID:  w.ID,
				Name:        ws.Name,
				Description: ws.Description,
				ExactType:   ws.ExactType,
				DateCreated: parseTime(ws.DateCreated),
				DateUpdated: parseTime(ws.DateUpdated),
			})
		}
		b.Floors = append(b.Floors, f)
	}
	return b
}

func (p wirePoint) toModel(buildingID, floorID, spaceID string) models.SensorPoint {
	sp := models.SensorPoint{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ExactType:   p.ExactType,
		BuildingID:  buildingID,
		FloorID:     floorID,
		SpaceID:     spaceID,
		Series:      p.Series,
	}
	if p.Unit != nil {
		sp.Unit = p.Unit.Name
	}
	return sp
}

// flattenPoints 把建筑/楼层/空间三级点位展开，带上所在范围
func (w wireBuilding) flattenPoints() []models.SensorPoint {
	var out []models.SensorPoint
	for _, p := range w.Points {
		out = append(out, p.toModel(w.ID, "", ""))
	}
	for _, f := range w.Floors {
		for _, p := range f.Points {
			out = append(out, p.toModel(w.ID, f.ID, ""))
		}
		for _, s := range f.Spaces {
			for _, p := range s.Points {
				out = append(out, p.toModel(w.ID, f.ID, s.ID))
			}
		}
	}
	return out
}
