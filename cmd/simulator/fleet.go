package main

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ukydev/fleet-tracking/internal/geo"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// Cities for realistic routes
var cities = []models.Coordinate{
	{Lat: 6.5244, Lng: 3.3792},    // Lagos
	{Lat: 6.4550, Lng: 3.3841},    // Lagos Island
	{Lat: 6.6018, Lng: 3.3515},    // Ikeja
	{Lat: 7.3775, Lng: 3.9470},    // Ibadan
	{Lat: 9.0765, Lng: 7.3986},    // Abuja
	{Lat: 5.6037, Lng: -0.1870},   // Accra
	{Lat: 51.5074, Lng: -0.1278},  // London
	{Lat: 40.4168, Lng: -3.7038},  // Madrid
	{Lat: 48.8566, Lng: 2.3522},   // Paris
	{Lat: 52.5200, Lng: 13.4050},  // Berlin
	{Lat: -26.2041, Lng: 28.0473}, // Johannesburg
	{Lat: 25.2048, Lng: 55.2708},  // Dubai
}

const (
	minSpeed        = 15.0
	maxSpeed        = 95.0
	lowBattery      = 20.0
	historyCapacity = 2000
)

func jitterLocation(rng *rand.Rand, base models.Coordinate, meters float64) models.Coordinate {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rng.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rng.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return models.Coordinate{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func lerp(a, b models.Coordinate, t float64) models.Coordinate {
	return models.Coordinate{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

func distanceKm(a, b models.Coordinate) float64 {
	return geo.Distance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// bearing returns the initial course from a to b in degrees.
func bearing(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// route is a list of waypoints and the progress along the current segment.
type route struct {
	points    []models.Coordinate
	segIndex  int
	segOffset float64 // km along current segment
}

type vehicle struct {
	device        models.Device
	position      models.Position
	route         *route
	battery       float64
	engineOn      bool
	locked        bool
	vehicleID     string
	transporterID string
	assignedAt    string
	overspeed     bool
	lowBattery    bool
	inside        map[string]bool
	history       []models.TrackPoint
}

// fleet is the simulated provider state. All access goes through mu.
type fleet struct {
	mu         sync.Mutex
	rng        *rand.Rand
	now        func() time.Time
	speedLimit float64

	vehicles  []*vehicle
	byIMEI    map[string]*vehicle
	alerts    []models.Alert
	geofences []models.Geofence
	nextAlert int
	nextFence int
}

func newFleet(size int, speedLimit float64, seed int64) *fleet {
	f := &fleet{
		rng:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
		speedLimit: speedLimit,
		byIMEI:     make(map[string]*vehicle),
	}
	now := f.now().UTC()
	for i := 0; i < size; i++ {
		imei := strconv.Itoa(860000000000000 + i + 1)
		start := jitterLocation(f.rng, cities[f.rng.Intn(len(cities))], 500)
		v := &vehicle{
			device: models.Device{
				ID:     strconv.Itoa(i + 1),
				IMEI:   imei,
				Name:   fmt.Sprintf("Tracker %02d", i+1),
				Status: models.DeviceOnline,
			},
			position: models.Position{
				Lat:       start.Lat,
				Lng:       start.Lng,
				Speed:     30 + f.rng.Float64()*30,
				Accuracy:  5 + f.rng.Float64()*10,
				Altitude:  20 + f.rng.Float64()*80,
				Timestamp: models.NewTimestamp(now),
			},
			battery:  50 + f.rng.Float64()*50,
			engineOn: true,
			inside:   make(map[string]bool),
		}
		v.device.LastUpdate = models.NewTimestamp(now)
		f.planRoute(v)
		v.record()
		f.vehicles = append(f.vehicles, v)
		f.byIMEI[imei] = v
	}
	return f
}

// planRoute drives toward a nearby waypoint around the current city.
func (f *fleet) planRoute(v *vehicle) {
	start := v.position.Coordinate()
	points := []models.Coordinate{start}
	for i := 0; i < 4; i++ {
		points = append(points, jitterLocation(f.rng, points[len(points)-1], 3000))
	}
	v.route = &route{points: points}
}

func (v *vehicle) record() {
	v.history = append(v.history, models.TrackPoint{
		Lat:       v.position.Lat,
		Lng:       v.position.Lng,
		Speed:     v.position.Speed,
		Course:    v.position.Course,
		Timestamp: v.position.Timestamp,
	})
	if len(v.history) > historyCapacity {
		v.history = v.history[len(v.history)-historyCapacity:]
	}
}

// stepAlongRoute advances v by speed over dt.
func (f *fleet) stepAlongRoute(v *vehicle, dt time.Duration) {
	if v.route == nil || len(v.route.points) < 2 {
		f.planRoute(v)
	}
	remKm := v.position.Speed * dt.Hours()
	for remKm > 0 && v.route.segIndex < len(v.route.points)-1 {
		a := v.route.points[v.route.segIndex]
		b := v.route.points[v.route.segIndex+1]
		v.position.Course = bearing(a, b)
		segLen := distanceKm(a, b)
		leftOnSeg := segLen - v.route.segOffset
		if remKm >= leftOnSeg {
			v.position.Lat, v.position.Lng = b.Lat, b.Lng
			v.route.segIndex++
			v.route.segOffset = 0
			remKm -= leftOnSeg
			continue
		}
		t := (v.route.segOffset + remKm) / segLen
		t = math.Max(0, math.Min(1, t))
		p := lerp(a, b, t)
		v.position.Lat, v.position.Lng = p.Lat, p.Lng
		v.route.segOffset += remKm
		remKm = 0
	}
	if v.route.segIndex >= len(v.route.points)-1 {
		f.planRoute(v)
	}
}

// tick moves every running vehicle and raises alerts.
func (f *fleet) tick(dt time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now().UTC()
	for _, v := range f.vehicles {
		if v.engineOn {
			v.position.Speed += (f.rng.Float64()*2 - 1) * 6
			v.position.Speed = math.Max(minSpeed, math.Min(maxSpeed, v.position.Speed))
			f.stepAlongRoute(v, dt)
			v.battery -= v.position.Speed * dt.Hours() * 0.8
		} else {
			v.position.Speed = 0
		}
		if v.battery < 5 {
			v.battery = 100
		}
		v.position.Timestamp = models.NewTimestamp(now)
		v.device.LastUpdate = models.NewTimestamp(now)
		v.record()
		f.checkAlerts(v, now)
	}
}

func (f *fleet) checkAlerts(v *vehicle, now time.Time) {
	over := v.position.Speed > f.speedLimit
	if over && !v.overspeed {
		f.raise(v, models.AlertOverspeed, fmt.Sprintf("Speed %.0f km/h above limit %.0f km/h", v.position.Speed, f.speedLimit), now)
	}
	v.overspeed = over

	low := v.battery < lowBattery
	if low && !v.lowBattery {
		f.raise(v, models.AlertLowBattery, fmt.Sprintf("Battery at %.0f%%", v.battery), now)
	}
	v.lowBattery = low

	for _, fence := range f.geofences {
		in := contains(fence, v.position.Coordinate())
		was := v.inside[fence.ID]
		switch {
		case in && !was:
			f.raise(v, models.AlertGeofenceEnter, "Entered "+fence.Name, now)
		case !in && was:
			f.raise(v, models.AlertGeofenceExit, "Left "+fence.Name, now)
		}
		v.inside[fence.ID] = in
	}
}

func (f *fleet) raise(v *vehicle, kind models.AlertType, msg string, now time.Time) {
	f.nextAlert++
	pos := v.position
	f.alerts = append(f.alerts, models.Alert{
		ID:        "alert-" + strconv.Itoa(f.nextAlert),
		DeviceID:  v.device.IMEI,
		Type:      kind,
		Message:   msg,
		Timestamp: models.NewTimestamp(now),
		Position:  &pos,
	})
	if len(f.alerts) > historyCapacity {
		f.alerts = f.alerts[len(f.alerts)-historyCapacity:]
	}
}

// contains reports whether p lies in fence. Radius is in metres.
func contains(fence models.Geofence, p models.Coordinate) bool {
	switch fence.Type {
	case models.GeofenceCircle:
		if len(fence.Coordinates) == 0 {
			return false
		}
		return distanceKm(fence.Coordinates[0], p)*1000 <= fence.Radius
	case models.GeofencePolygon:
		inside := false
		pts := fence.Coordinates
		for i, j := 0, len(pts)-1; i < len(pts); j, i = i, i+1 {
			if (pts[i].Lat > p.Lat) != (pts[j].Lat > p.Lat) &&
				p.Lng < (pts[j].Lng-pts[i].Lng)*(p.Lat-pts[i].Lat)/(pts[j].Lat-pts[i].Lat)+pts[i].Lng {
				inside = !inside
			}
		}
		return inside
	default:
		return false
	}
}

func (f *fleet) devices() []models.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Device, 0, len(f.vehicles))
	for _, v := range f.vehicles {
		out = append(out, v.snapshot())
	}
	return out
}

func (v *vehicle) snapshot() models.Device {
	d := v.device
	pos := v.position
	d.Position = &pos
	if !v.engineOn {
		d.Status = models.DeviceInactive
	}
	return d
}

func (f *fleet) device(imei string) (models.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.byIMEI[imei]
	if !ok {
		return models.Device{}, false
	}
	return v.snapshot(), true
}

func (f *fleet) position(imei string) (models.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.byIMEI[imei]
	if !ok {
		return models.Position{}, false
	}
	return v.position, true
}

func (f *fleet) positions() []models.DevicePosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DevicePosition, 0, len(f.vehicles))
	for _, v := range f.vehicles {
		out = append(out, models.DevicePosition{IMEI: v.device.IMEI, Position: v.position})
	}
	return out
}

// track returns the recorded points of imei within [from, to].
func (f *fleet) track(imei string, from, to time.Time) ([]models.TrackPoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.byIMEI[imei]
	if !ok {
		return nil, false
	}
	out := []models.TrackPoint{}
	for _, p := range v.history {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, true
}

// recentAlerts returns up to limit alerts, newest first.
func (f *fleet) recentAlerts(imei string, limit int) []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Alert{}
	for i := len(f.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if imei != "" && f.alerts[i].DeviceID != imei {
			continue
		}
		out = append(out, f.alerts[i])
	}
	return out
}

func (f *fleet) addGeofence(fence models.Geofence) models.Geofence {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextFence++
	fence.ID = "geofence-" + strconv.Itoa(f.nextFence)
	f.geofences = append(f.geofences, fence)
	sort.Slice(f.geofences, func(i, j int) bool { return f.geofences[i].ID < f.geofences[j].ID })
	return fence
}

func (f *fleet) assign(imei, vehicleID, transporterID, assignedAt string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.byIMEI[imei]
	if !ok {
		return false
	}
	v.vehicleID, v.transporterID, v.assignedAt = vehicleID, transporterID, assignedAt
	return true
}

// apply executes a command. It reports false for an unknown IMEI.
func (f *fleet) apply(imei string, cmd models.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.byIMEI[imei]
	if !ok {
		return false
	}
	switch cmd {
	case models.CommandEngineOff:
		v.engineOn = false
		v.position.Speed = 0
	case models.CommandEngineOn:
		v.engineOn = true
		v.position.Speed = minSpeed
	case models.CommandLock:
		v.locked = true
	case models.CommandUnlock:
		v.locked = false
	case models.CommandLocate:
		v.position.Timestamp = models.NewTimestamp(f.now().UTC())
		v.position.Accuracy = 3
	}
	return true
}
