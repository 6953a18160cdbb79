package normalizer

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"go.uber.org/zap"
)

// 能耗分类
const (
	UsageHVAC        = "hvac"
	UsageLighting    = "lighting"
	UsagePlugLoad    = "plug_load"
	UsageElectricity = "electricity"
)

// UsageWriter 能耗记录写入
type UsageWriter interface {
	SaveEnergyUsage(ctx context.Context, rec *models.EnergyUsageRecord) (bool, error)
}

// Normalizer 把功率读数转换为小时能耗记录
type Normalizer struct {
	writer UsageWriter
	tariff Tariff
	source string
	logger *zap.Logger
	now    func() time.Time
}

// New 创建 Normalizer；source 为空时使用 remote_api
func New(writer UsageWriter, tariff Tariff, source string, logger *zap.Logger) *Normalizer {
	if source == "" {
		source = models.SourceRemoteAPI
	}
	if tariff == nil {
		tariff = ConstantTariff{}
	}
	return &Normalizer{
		writer: writer,
		tariff: tariff,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Normalize 把单条读数转换为能耗记录；读数不可用时返回 false
func (n *Normalizer) Normalize(point models.SensorPoint, reading models.Reading) (*models.EnergyUsageRecord, bool) {
	if point.BuildingID == "" {
		return nil, false
	}
	value, ok := CoerceValue(reading.Value)
	if !ok {
		return nil, false
	}
	ts, err := reading.ParseTimestamp()
	if err != nil {
		return nil, false
	}

	bucket := ts.UTC().Truncate(time.Hour)
	kwh := ToWatts(value, point.Unit) / 1000.0 // 瞬时功率按 1 小时计

	return &models.EnergyUsageRecord{
		BuildingID:     point.BuildingID,
		FloorID:        point.FloorID,
		SpaceID:        point.SpaceID,
		Timestamp:      bucket,
		ConsumptionKWh: kwh,
		CostUSD:        kwh * n.tariff.RateAt(bucket, point.BuildingID),
		UsageType:      ClassifyUsage(point.ExactType, point.Name),
		Source:         n.source,
		SyncTimestamp:  n.now().UTC(),
	}, true
}

// ProcessPoint 处理一个点位的全部读数，按时间升序写入
func (n *Normalizer) ProcessPoint(ctx context.Context, point models.SensorPoint) models.StepResult {
	var result models.StepResult

	type timed struct {
		ts      time.Time
		reading models.Reading
	}
	readings := make([]timed, 0, len(point.Series))
	for _, r := range point.Series {
		ts, err := r.ParseTimestamp()
		if err != nil {
			n.logger.Debug("Skipping reading with unparsable timestamp",
				zap.String("point_id", point.ID),
				zap.String("timestamp", r.Timestamp),
			)
			continue
		}
		readings = append(readings, timed{ts: ts, reading: r})
	}
	sort.SliceStable(readings, func(i, j int) bool { return readings[i].ts.Before(readings[j].ts) })

	for _, r := range readings {
		rec, ok := n.Normalize(point, r.reading)
		if !ok {
			n.logger.Debug("Skipping unusable reading",
				zap.String("point_id", point.ID),
				zap.String("timestamp", r.reading.Timestamp),
			)
			continue
		}
		written, err := n.writer.SaveEnergyUsage(ctx, rec)
		if err != nil {
			n.logger.Error("Failed to save energy usage",
				zap.String("point_id", point.ID),
				zap.String("building_id", rec.BuildingID),
				zap.Error(err),
			)
			result.AddError(err)
			continue
		}
		if written {
			result.RecordsSynced++
		}
	}
	return result
}

// CoerceValue 按 float64 → float32 → bool → 数字字符串 的顺序取值
func CoerceValue(v models.RawValue) (float64, bool) {
	if v.IsEmpty() {
		return 0, false
	}
	var f float64
	switch {
	case v.Float64 != nil:
		f = *v.Float64
	case v.Float32 != nil:
		f = float64(*v.Float32)
	case v.Bool != nil:
		if *v.Bool {
			f = 1
		}
	default:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(*v.String), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToWatts 按点位单位换算为瓦；未知单位按瓦处理
func ToWatts(value float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "kilowatt", "kw":
		return value * 1e3
	case "megawatt", "mw":
		return value * 1e6
	default:
		return value
	}
}

var usageKeywords = []struct {
	usage    string
	keywords []string
}{
	{UsageHVAC, []string{"hvac", "chiller", "boiler", "air_handl", "ahu", "fan", "pump", "heat", "cool"}},
	{UsageLighting, []string{"light", "luminaire", "lamp"}},
	{UsagePlugLoad, []string{"plug", "outlet", "receptacle"}},
}

// ClassifyUsage 按点位类型和名称推断能耗分类
func ClassifyUsage(exactType, name string) string {
	s := strings.ToLower(exactType + " " + name)
	for _, c := range usageKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(s, kw) {
				return c.usage
			}
		}
	}
	return UsageElectricity
}
