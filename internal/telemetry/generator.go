// Synthetic per-subsystem telemetry generators
package telemetry

import (
	"math"
	"math/rand"
)

// Subsystem names of the standard generator set.
const (
	SubsystemNavigation      = "Navigation"
	SubsystemPropulsion      = "Propulsion"
	SubsystemPower           = "Power"
	SubsystemCommunication   = "Communication"
	SubsystemPayload         = "Payload"
	SubsystemEnvironmental   = "Environmental"
	SubsystemFlightControl   = "Flight_Control"
	SubsystemSensorFusion    = "Sensor_Fusion"
	SubsystemMissionPlanning = "Mission_Planning"
	SubsystemSafetySystems   = "Safety_Systems"
	SubsystemDataStorage     = "Data_Storage"
)

// StandardSubsystems returns the default subsystem set created for a new UAV.
func StandardSubsystems() []string {
	return []string{
		SubsystemNavigation,
		SubsystemPropulsion,
		SubsystemPower,
		SubsystemCommunication,
		SubsystemPayload,
		SubsystemEnvironmental,
		SubsystemFlightControl,
		SubsystemSensorFusion,
		SubsystemMissionPlanning,
		SubsystemSafetySystems,
		SubsystemDataStorage,
	}
}

// Generator produces one nominal payload per tick for a single subsystem.
// Generators are not safe for concurrent use; each agent owns exactly one.
type Generator interface {
	Subsystem() string
	Step() (map[string]float64, Status)
}

// NewGenerator selects the generator variant for a subsystem name.
func NewGenerator(subsystem string, rng *rand.Rand) (Generator, error) {
	switch subsystem {
	case SubsystemNavigation:
		return newNavigationGen(rng), nil
	case SubsystemPropulsion:
		return newPropulsionGen(rng), nil
	case SubsystemPower:
		return newPowerGen(rng), nil
	case SubsystemCommunication:
		return newCommunicationGen(rng), nil
	case SubsystemPayload:
		return newPayloadGen(rng), nil
	case SubsystemEnvironmental:
		return newEnvironmentalGen(rng), nil
	case SubsystemFlightControl:
		return newFlightControlGen(rng), nil
	case SubsystemSensorFusion:
		return newSensorFusionGen(rng), nil
	case SubsystemMissionPlanning:
		return newMissionPlanningGen(rng), nil
	case SubsystemSafetySystems:
		return newSafetySystemsGen(rng), nil
	case SubsystemDataStorage:
		return newDataStorageGen(rng), nil
	default:
		return nil, &ValidationError{Field: "subsystem", Reason: "unknown subsystem " + subsystem}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// walk nudges v by a uniform step in ±step and clamps to [lo, hi].
func walk(rng *rand.Rand, v, step, lo, hi float64) float64 {
	return clamp(v+(rng.Float64()*2-1)*step, lo, hi)
}

type navigationGen struct {
	rng            *rand.Rand
	lat, lon, alt  float64
	heading, speed float64
	gpsAccuracy    float64
	roll, pitch    float64
}

func newNavigationGen(rng *rand.Rand) *navigationGen {
	return &navigationGen{
		rng:         rng,
		lat:         34.0522 + rng.Float64()*0.2 - 0.1,
		lon:         -118.2437 + rng.Float64()*0.2 - 0.1,
		alt:         100 + rng.Float64()*400,
		heading:     rng.Float64() * 360,
		speed:       10 + rng.Float64()*20,
		gpsAccuracy: 1 + rng.Float64()*4,
	}
}

func (g *navigationGen) Subsystem() string { return SubsystemNavigation }

func (g *navigationGen) Step() (map[string]float64, Status) {
	g.heading = math.Mod(g.heading+(g.rng.Float64()*10-5)+360, 360)
	g.speed = walk(g.rng, g.speed, 1.0, 0, 40)
	rad := g.heading * math.Pi / 180
	g.lat += (g.speed * math.Cos(rad)) / 111000
	g.lon += (g.speed * math.Sin(rad)) / (111000 * math.Cos(g.lat*math.Pi/180))
	g.alt = walk(g.rng, g.alt, 2.0, 0, 1000)
	g.gpsAccuracy = walk(g.rng, g.gpsAccuracy, 0.3, 0.5, 15)
	g.roll = walk(g.rng, g.roll, 1.0, -30, 30)
	g.pitch = walk(g.rng, g.pitch, 1.0, -30, 30)

	status := StatusNominal
	if g.gpsAccuracy > 10 {
		status = StatusDegraded
	}
	return map[string]float64{
		"latitude":     g.lat,
		"longitude":    g.lon,
		"altitude":     g.alt,
		"heading":      g.heading,
		"speed":        g.speed,
		"gps_accuracy": g.gpsAccuracy,
		"roll":         g.roll,
		"pitch":        g.pitch,
	}, status
}

type propulsionGen struct {
	rng       *rand.Rand
	rpm       [4]float64
	temp      [4]float64
	thrust    float64
	vibration float64
}

func newPropulsionGen(rng *rand.Rand) *propulsionGen {
	g := &propulsionGen{rng: rng, thrust: 60, vibration: 0.2}
	for i := range g.rpm {
		g.rpm[i] = 8000 + rng.Float64()*1000
		g.temp[i] = 40 + rng.Float64()*10
	}
	return g
}

func (g *propulsionGen) Subsystem() string { return SubsystemPropulsion }

func (g *propulsionGen) Step() (map[string]float64, Status) {
	payload := map[string]float64{}
	var avgTemp, totalRPM float64
	for i := range g.rpm {
		g.rpm[i] = walk(g.rng, g.rpm[i], 150, 0, 12000)
		g.temp[i] = walk(g.rng, g.temp[i], 0.8, 15, 120)
		avgTemp += g.temp[i]
		totalRPM += g.rpm[i]
	}
	avgTemp /= float64(len(g.temp))
	g.thrust = walk(g.rng, g.thrust, 2, 0, 100)
	g.vibration = walk(g.rng, g.vibration, 0.05, 0, 3)

	payload["motor_rpm_avg"] = totalRPM / float64(len(g.rpm))
	payload["motor_temp_avg"] = avgTemp
	payload["total_thrust"] = g.thrust
	payload["vibration"] = g.vibration

	status := StatusNominal
	switch {
	case avgTemp > 95:
		status = StatusCritical
	case avgTemp > 80 || g.vibration > 2:
		status = StatusDegraded
	}
	return payload, status
}

type powerGen struct {
	rng     *rand.Rand
	voltage float64
	current float64
	soc     float64
	temp    float64
}

func newPowerGen(rng *rand.Rand) *powerGen {
	return &powerGen{rng: rng, voltage: 12.6, current: 8.5, soc: 95, temp: 25}
}

func (g *powerGen) Subsystem() string { return SubsystemPower }

func (g *powerGen) Step() (map[string]float64, Status) {
	g.soc = clamp(g.soc-0.002-g.rng.Float64()*0.002, 0, 100)
	g.voltage = clamp(10.5+g.soc/100*2.1+(g.rng.Float64()*0.1-0.05), 0, 13)
	g.current = walk(g.rng, g.current, 0.4, 0, 20)
	g.temp = walk(g.rng, g.temp, 0.3, 10, 90)

	status := StatusNominal
	switch {
	case g.soc < 10 || g.temp > 70:
		status = StatusCritical
	case g.soc < 25:
		status = StatusDegraded
	}
	return map[string]float64{
		"battery_voltage":     g.voltage,
		"battery_current":     g.current,
		"state_of_charge":     g.soc,
		"battery_temperature": g.temp,
		"power_draw":          g.voltage * g.current,
	}, status
}

type communicationGen struct {
	rng        *rand.Rand
	rssi       float64
	snr        float64
	packetLoss float64
	bandwidth  float64
}

func newCommunicationGen(rng *rand.Rand) *communicationGen {
	return &communicationGen{rng: rng, rssi: -60, snr: 25, packetLoss: 0.5, bandwidth: 45}
}

func (g *communicationGen) Subsystem() string { return SubsystemCommunication }

func (g *communicationGen) Step() (map[string]float64, Status) {
	g.rssi = walk(g.rng, g.rssi, 2, -110, -30)
	g.snr = walk(g.rng, g.snr, 1, 0, 40)
	g.packetLoss = walk(g.rng, g.packetLoss, 0.3, 0, 100)
	g.bandwidth = walk(g.rng, g.bandwidth, 1.5, 0, 54)

	status := StatusNominal
	switch {
	case g.rssi < -100 || g.packetLoss > 40:
		status = StatusCritical
	case g.rssi < -85 || g.packetLoss > 10:
		status = StatusDegraded
	}
	return map[string]float64{
		"rssi":           g.rssi,
		"snr":            g.snr,
		"packet_loss":    g.packetLoss,
		"bandwidth_mbps": g.bandwidth,
	}, status
}

type payloadGen struct {
	rng         *rand.Rand
	gimbalPitch float64
	gimbalYaw   float64
	storageUsed float64
	sensorTemp  float64
}

func newPayloadGen(rng *rand.Rand) *payloadGen {
	return &payloadGen{rng: rng, gimbalPitch: -15, storageUsed: 20, sensorTemp: 30}
}

func (g *payloadGen) Subsystem() string { return SubsystemPayload }

func (g *payloadGen) Step() (map[string]float64, Status) {
	g.gimbalPitch = walk(g.rng, g.gimbalPitch, 2, -90, 30)
	g.gimbalYaw = walk(g.rng, g.gimbalYaw, 3, -180, 180)
	g.storageUsed = clamp(g.storageUsed+g.rng.Float64()*0.01, 0, 100)
	g.sensorTemp = walk(g.rng, g.sensorTemp, 0.4, 10, 85)

	status := StatusNominal
	switch {
	case g.storageUsed > 98:
		status = StatusCritical
	case g.storageUsed > 90 || g.sensorTemp > 70:
		status = StatusDegraded
	}
	return map[string]float64{
		"gimbal_pitch":         g.gimbalPitch,
		"gimbal_yaw":           g.gimbalYaw,
		"storage_used_percent": g.storageUsed,
		"sensor_temperature":   g.sensorTemp,
	}, status
}

type environmentalGen struct {
	rng         *rand.Rand
	temperature float64
	humidity    float64
	pressure    float64
	windSpeed   float64
}

func newEnvironmentalGen(rng *rand.Rand) *environmentalGen {
	return &environmentalGen{rng: rng, temperature: 18, humidity: 55, pressure: 1013, windSpeed: 4}
}

func (g *environmentalGen) Subsystem() string { return SubsystemEnvironmental }

func (g *environmentalGen) Step() (map[string]float64, Status) {
	g.temperature = walk(g.rng, g.temperature, 0.2, -20, 50)
	g.humidity = walk(g.rng, g.humidity, 0.5, 0, 100)
	g.pressure = walk(g.rng, g.pressure, 0.3, 950, 1050)
	g.windSpeed = walk(g.rng, g.windSpeed, 0.5, 0, 30)

	status := StatusNominal
	if g.windSpeed > 20 {
		status = StatusDegraded
	}
	return map[string]float64{
		"air_temperature": g.temperature,
		"humidity":        g.humidity,
		"pressure_hpa":    g.pressure,
		"wind_speed":      g.windSpeed,
	}, status
}

type flightControlGen struct {
	rng          *rand.Rand
	servo        [4]float64
	controlLoad  float64
	responseTime float64
}

func newFlightControlGen(rng *rand.Rand) *flightControlGen {
	g := &flightControlGen{rng: rng, controlLoad: 35, responseTime: 12}
	for i := range g.servo {
		g.servo[i] = rng.Float64()*20 - 10
	}
	return g
}

func (g *flightControlGen) Subsystem() string { return SubsystemFlightControl }

func (g *flightControlGen) Step() (map[string]float64, Status) {
	var maxDeflection float64
	for i := range g.servo {
		g.servo[i] = walk(g.rng, g.servo[i], 1.5, -45, 45)
		maxDeflection = math.Max(maxDeflection, math.Abs(g.servo[i]))
	}
	g.controlLoad = walk(g.rng, g.controlLoad, 2, 0, 100)
	g.responseTime = walk(g.rng, g.responseTime, 0.8, 1, 200)

	status := StatusNominal
	switch {
	case g.responseTime > 100:
		status = StatusCritical
	case g.responseTime > 50 || g.controlLoad > 85:
		status = StatusDegraded
	}
	return map[string]float64{
		"servo_deflection_max": maxDeflection,
		"control_load":         g.controlLoad,
		"response_time_ms":     g.responseTime,
	}, status
}

type sensorFusionGen struct {
	rng            *rand.Rand
	fusionQuality  float64
	kalmanResidual float64
	imuDrift       float64
}

func newSensorFusionGen(rng *rand.Rand) *sensorFusionGen {
	return &sensorFusionGen{rng: rng, fusionQuality: 0.95, kalmanResidual: 0.05, imuDrift: 0.01}
}

func (g *sensorFusionGen) Subsystem() string { return SubsystemSensorFusion }

func (g *sensorFusionGen) Step() (map[string]float64, Status) {
	g.fusionQuality = walk(g.rng, g.fusionQuality, 0.01, 0, 1)
	g.kalmanResidual = walk(g.rng, g.kalmanResidual, 0.01, 0, 2)
	g.imuDrift = walk(g.rng, g.imuDrift, 0.002, 0, 0.5)

	status := StatusNominal
	switch {
	case g.fusionQuality < 0.4 || g.kalmanResidual > 1.0:
		status = StatusCritical
	case g.fusionQuality < 0.7 || g.kalmanResidual > 0.5:
		status = StatusDegraded
	}
	return map[string]float64{
		"fusion_quality":  g.fusionQuality,
		"kalman_residual": g.kalmanResidual,
		"imu_drift":       g.imuDrift,
	}, status
}

type missionPlanningGen struct {
	rng              *rand.Rand
	totalWaypoints   float64
	completed        float64
	distanceRemain   float64
	fuelRemaining    float64
	batteryRemaining float64
	waypointAccuracy float64
	efficiency       float64
	violations       float64
}

func newMissionPlanningGen(rng *rand.Rand) *missionPlanningGen {
	return &missionPlanningGen{
		rng:              rng,
		totalWaypoints:   8,
		completed:        2,
		distanceRemain:   15.8,
		fuelRemaining:    75,
		batteryRemaining: 80,
		waypointAccuracy: 2.5,
		efficiency:       0.85,
	}
}

func (g *missionPlanningGen) Subsystem() string { return SubsystemMissionPlanning }

func (g *missionPlanningGen) Step() (map[string]float64, Status) {
	if g.completed < g.totalWaypoints && g.rng.Float64() < 0.01 {
		g.completed++
	}
	g.distanceRemain = clamp(g.distanceRemain-g.rng.Float64()*0.05, 0, 20)
	g.fuelRemaining = clamp(g.fuelRemaining-0.002-g.rng.Float64()*0.002, 0, 100)
	g.batteryRemaining = clamp(g.batteryRemaining-0.001-g.rng.Float64()*0.002, 0, 100)
	g.waypointAccuracy = walk(g.rng, g.waypointAccuracy, 0.1, 0.5, 10)
	g.efficiency = walk(g.rng, g.efficiency, 0.01, 0.5, 1)
	if g.rng.Float64() < 0.001 {
		g.violations++
	}

	status := StatusNominal
	switch {
	case g.fuelRemaining < 20 || g.batteryRemaining < 20:
		status = StatusCritical
	case g.fuelRemaining < 30 || g.batteryRemaining < 30 || g.violations > 2:
		status = StatusDegraded
	}
	return map[string]float64{
		"completion_percent":    g.completed / g.totalWaypoints * 100,
		"distance_remaining_km": g.distanceRemain,
		"fuel_remaining":        g.fuelRemaining,
		"battery_remaining":     g.batteryRemaining,
		"waypoint_accuracy":     g.waypointAccuracy,
		"mission_efficiency":    g.efficiency,
		"constraint_violations": g.violations,
	}, status
}

type safetySystemsGen struct {
	rng            *rand.Rand
	safetyMargin   float64
	detectionRange float64
	obstacleDist   float64
	criticalAlerts float64
}

func newSafetySystemsGen(rng *rand.Rand) *safetySystemsGen {
	return &safetySystemsGen{rng: rng, safetyMargin: 50, detectionRange: 200, obstacleDist: 200}
}

func (g *safetySystemsGen) Subsystem() string { return SubsystemSafetySystems }

func (g *safetySystemsGen) Step() (map[string]float64, Status) {
	g.safetyMargin = walk(g.rng, g.safetyMargin, 2, 10, 100)
	g.detectionRange = walk(g.rng, g.detectionRange, 5, 50, 500)

	// Obstacle sightings are rare; without one the reported distance is the
	// edge of the detection range.
	geofenceBreach := 0.0
	if g.rng.Float64() < 0.01 {
		g.obstacleDist = 10 + g.rng.Float64()*190
	} else {
		g.obstacleDist = g.detectionRange
	}
	if g.rng.Float64() < 0.0001 {
		geofenceBreach = 1
	}
	if g.rng.Float64() < 0.001 {
		g.criticalAlerts++
	}

	status := StatusNominal
	switch {
	case g.obstacleDist < 20 || geofenceBreach == 1:
		status = StatusCritical
	case g.obstacleDist < 50 || g.safetyMargin < 40:
		status = StatusDegraded
	}
	return map[string]float64{
		"obstacle_distance": g.obstacleDist,
		"safety_margin":     g.safetyMargin,
		"detection_range":   g.detectionRange,
		"geofence_breach":   geofenceBreach,
		"critical_alerts":   g.criticalAlerts,
	}, status
}

type dataStorageGen struct {
	rng          *rand.Rand
	health       float64
	usagePercent float64
	readSpeed    float64
	writeSpeed   float64
	latency      float64
	errorRate    float64
}

func newDataStorageGen(rng *rand.Rand) *dataStorageGen {
	return &dataStorageGen{
		rng:          rng,
		health:       95,
		usagePercent: 33,
		readSpeed:    500,
		writeSpeed:   450,
		latency:      0.5,
		errorRate:    0.001,
	}
}

func (g *dataStorageGen) Subsystem() string { return SubsystemDataStorage }

func (g *dataStorageGen) Step() (map[string]float64, Status) {
	g.health = walk(g.rng, g.health, 0.1, 0, 100)
	g.usagePercent = clamp(g.usagePercent+g.rng.Float64()*0.01, 0, 100)
	g.readSpeed = walk(g.rng, g.readSpeed, 10, 0, 600)
	g.writeSpeed = walk(g.rng, g.writeSpeed, 10, 0, 550)
	g.latency = walk(g.rng, g.latency, 0.1, 0.1, 10)
	g.errorRate = walk(g.rng, g.errorRate, 0.0001, 0, 0.1)

	status := StatusNominal
	switch {
	case g.health < 50 || g.usagePercent > 90:
		status = StatusCritical
	case g.health < 80 || g.usagePercent > 80 || g.errorRate > 0.01:
		status = StatusDegraded
	}
	return map[string]float64{
		"disk_health":      g.health,
		"usage_percent":    g.usagePercent,
		"read_speed_mbps":  g.readSpeed,
		"write_speed_mbps": g.writeSpeed,
		"io_latency_ms":    g.latency,
		"error_rate":       g.errorRate,
	}, status
}
