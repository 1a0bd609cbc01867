package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	buildingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Building",
		Fields: graphql.Fields{
			"lat":        &graphql.Field{Type: graphql.Float},
			"lon":        &graphql.Field{Type: graphql.Float},
			"height_m":   &graphql.Field{Type: graphql.Float},
			"distance_m": &graphql.Field{Type: graphql.Float},
		},
	})

	weatherType := graphql.NewObject(graphql.ObjectConfig{
		Name: "WeatherSample",
		Fields: graphql.Fields{
			"cloud_cover_pct":  &graphql.Field{Type: graphql.Float},
			"precipitation_mm": &graphql.Field{Type: graphql.Float},
			"visibility_km":    &graphql.Field{Type: graphql.Float},
			"score":            &graphql.Field{Type: graphql.Float},
		},
	})

	zoneType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DangerZone",
		Fields: graphql.Fields{
			"point_index":      &graphql.Field{Type: graphql.Int},
			"lat":              &graphql.Field{Type: graphql.Float},
			"lon":              &graphql.Field{Type: graphql.Float},
			"time":             &graphql.Field{Type: graphql.String, Resolve: resolveZoneTime},
			"nearby_buildings": &graphql.Field{Type: graphql.NewList(buildingType)},
			"weather":          &graphql.Field{Type: weatherType},
		},
	})

	reportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RiskReport",
		Fields: graphql.Fields{
			"danger_ratio":          &graphql.Field{Type: graphql.Float},
			"quality_label":         &graphql.Field{Type: graphql.String},
			"average_weather_score": &graphql.Field{Type: graphql.Float},
		},
	})

	warningType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Warning",
		Fields: graphql.Fields{
			"point_index": &graphql.Field{Type: graphql.Int},
			"stage":       &graphql.Field{Type: graphql.String},
			"kind":        &graphql.Field{Type: graphql.String},
			"message":     &graphql.Field{Type: graphql.String},
		},
	})

	analysisType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Analysis",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.String},
			"stride":          &graphql.Field{Type: graphql.Int},
			"points_total":    &graphql.Field{Type: graphql.Int},
			"points_analyzed": &graphql.Field{Type: graphql.Int},
			"danger_indices":  &graphql.Field{Type: graphql.NewList(graphql.Int)},
			"danger_zones":    &graphql.Field{Type: graphql.NewList(zoneType)},
			"report":          &graphql.Field{Type: reportType},
			"warnings":        &graphql.Field{Type: graphql.NewList(warningType)},
		},
	})

	pointInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "PointInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"lat":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"lon":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"time": &graphql.InputObjectFieldConfig{Type: graphql.String, Description: "RFC 3339 timestamp"},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"weatherScore": &graphql.Field{
				Type:        graphql.Float,
				Description: "Score hourly conditions on the 0-100 visibility scale",
				Args: graphql.FieldConfigArgument{
					"cloud_cover":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"precipitation": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"visibility":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return usecases.WeatherScore(
						p.Args["cloud_cover"].(float64),
						p.Args["precipitation"].(float64),
						p.Args["visibility"].(float64),
					), nil
				},
			},
			"classify": &graphql.Field{
				Type:        graphql.String,
				Description: "Map a danger ratio to a quality label",
				Args: graphql.FieldConfigArgument{
					"danger_ratio": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					ratio := p.Args["danger_ratio"].(float64)
					if ratio < 0 || ratio > 1 {
						return nil, errors.New("danger_ratio must be in [0, 1]")
					}
					return string(usecases.Classify(ratio)), nil
				},
			},
			"nearbyBuildings": &graphql.Field{
				Type:        graphql.NewList(buildingType),
				Description: "Tall buildings around a location",
				Args: graphql.FieldConfigArgument{
					"lat":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius":     &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: deps.Defaults.SearchRadiusM},
					"min_height": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: deps.Defaults.MinHeightM},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pt := domain.TrackPoint{Lat: p.Args["lat"].(float64), Lon: p.Args["lon"].(float64)}
					params := deps.Defaults
					params.SearchRadiusM = p.Args["radius"].(float64)
					params.MinHeightM = p.Args["min_height"].(float64)
					if err := usecases.ValidateParams(params); err != nil {
						return nil, err
					}
					res, err := deps.Proximity.Query(p.Context, pt, params.SearchRadiusM)
					if err != nil {
						return nil, err
					}
					return usecases.FilterBuildings(pt, res, params.SearchRadiusM, params.MinHeightM), nil
				},
			},
			"analysis": &graphql.Field{
				Type:        analysisType,
				Description: "A recently finished analysis",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Analysis.Lookup(p.Context, p.Args["id"].(string))
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"analyzeTrack": &graphql.Field{
				Type:        analysisType,
				Description: "Run the interference analysis over a point list",
				Args: graphql.FieldConfigArgument{
					"points":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(pointInput)))},
					"radius":          &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: deps.Defaults.SearchRadiusM},
					"min_height":      &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: deps.Defaults.MinHeightM},
					"skip_downsample": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: deps.Defaults.SkipDownsample},
					"skip_weather":    &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: deps.Defaults.SkipWeather},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tr, err := trackFromArgs(p.Args["points"])
					if err != nil {
						return nil, err
					}
					params := deps.Defaults
					params.SearchRadiusM = p.Args["radius"].(float64)
					params.MinHeightM = p.Args["min_height"].(float64)
					params.SkipDownsample = p.Args["skip_downsample"].(bool)
					params.SkipWeather = p.Args["skip_weather"].(bool)
					return deps.Analysis.Analyze(p.Context, tr, params)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

func resolveZoneTime(p graphql.ResolveParams) (interface{}, error) {
	z, ok := p.Source.(domain.DangerZone)
	if !ok || z.Time == nil {
		return nil, nil
	}
	return z.Time.UTC().Format(time.RFC3339), nil
}

func trackFromArgs(raw interface{}) (domain.Track, error) {
	items, _ := raw.([]interface{})
	tr := domain.Track{Points: make([]domain.TrackPoint, 0, len(items))}
	for i, item := range items {
		m, _ := item.(map[string]interface{})
		lat, _ := m["lat"].(float64)
		lon, _ := m["lon"].(float64)
		tp := domain.TrackPoint{Lat: lat, Lon: lon}
		if s, ok := m["time"].(string); ok && s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return domain.Track{}, fmt.Errorf("points[%d].time: %w", i, err)
			}
			t = t.UTC()
			tp.Time = &t
		}
		tr.Points = append(tr.Points, tp)
	}
	return tr, nil
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
