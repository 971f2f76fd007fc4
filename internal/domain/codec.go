package domain

import (
	"time"

	"positioner-tracker/internal/fhir"
)

// 状态编解码：资源扩展列表 <-> 类型化视图
//
// 约定：
// - 扩展列表中不存在某个 url 即表示对应字段缺失（不存在 null 值表示法）
// - 未识别的 url 在编码时原样保留（前向兼容）
// - 编码满足往返律：DecodePositioner(EncodePositioner(v, r)) == v

// DecodePositioner 从资源解码定位垫视图
func DecodePositioner(res fhir.Resource) Positioner {
	barcode := res.IdentifierValue(BarcodeSystem)
	if barcode == "" {
		// 存量数据可能缺少 system，退回第一个标识
		barcode = res.IdentifierValue("")
	}

	return Positioner{
		ID:                    res.ID,
		Barcode:               barcode,
		RecordStatus:          res.Status,
		OpenedAt:              dateTimeExtension(res, extOpenedAt),
		ExpiresAt:             dateTimeExtension(res, extExpiresAt),
		CurrentPatient:        referenceExtension(res, extCurrentPatient),
		AssignedAt:            dateTimeExtension(res, extAssignedAt),
		RotationIntervalHours: integerExtension(res, extRotationIntervalHours),
		NextRotationAt:        dateTimeExtension(res, extNextRotationAt),
		LastRotatedAt:         dateTimeExtension(res, extLastRotatedAt),
	}
}

// EncodePositioner 将视图编码回资源
// base 上未识别的扩展和其它字段原样保留；已识别字段整体替换，nil 字段的扩展项被删除
func EncodePositioner(p Positioner, base fhir.Resource) fhir.Resource {
	res := base.Clone()
	res.ResourceType = DeviceResourceType
	if p.ID != "" {
		res.ID = p.ID
	}
	res.Status = p.RecordStatus

	if p.Barcode != "" && res.IdentifierValue(BarcodeSystem) == "" && res.IdentifierValue("") == "" {
		res.Identifier = append(res.Identifier, fhir.Identifier{
			System: BarcodeSystem,
			Value:  p.Barcode,
		})
	}
	if res.Type == nil {
		res.Type = &fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  DeviceTypeSystem,
				Code:    PositionerTypeCode,
				Display: "Fluidized Positioner",
			}},
		}
	}

	res = setDateTimeExtension(res, extOpenedAt, p.OpenedAt)
	res = setDateTimeExtension(res, extExpiresAt, p.ExpiresAt)
	res = setReferenceExtension(res, extCurrentPatient, p.CurrentPatient)
	res = setDateTimeExtension(res, extAssignedAt, p.AssignedAt)
	res = setIntegerExtension(res, extRotationIntervalHours, p.RotationIntervalHours)
	res = setDateTimeExtension(res, extNextRotationAt, p.NextRotationAt)
	res = setDateTimeExtension(res, extLastRotatedAt, p.LastRotatedAt)

	return res
}

func dateTimeExtension(res fhir.Resource, url string) *time.Time {
	ext := res.FindExtension(url)
	if ext == nil || ext.ValueDateTime == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *ext.ValueDateTime)
	if err != nil {
		// 无法解析的时间值按缺失处理
		return nil
	}
	return &t
}

func integerExtension(res fhir.Resource, url string) *int {
	ext := res.FindExtension(url)
	if ext == nil || ext.ValueInteger == nil {
		return nil
	}
	v := *ext.ValueInteger
	return &v
}

func referenceExtension(res fhir.Resource, url string) *fhir.Reference {
	ext := res.FindExtension(url)
	if ext == nil || ext.ValueReference == nil {
		return nil
	}
	v := *ext.ValueReference
	return &v
}

// removeExtension 删除指定 url 的扩展项（缺失是 "未设置" 的唯一表示）
func removeExtension(res fhir.Resource, url string) fhir.Resource {
	filtered := res.Extension[:0:0]
	for _, ext := range res.Extension {
		if ext.URL != url {
			filtered = append(filtered, ext)
		}
	}
	res.Extension = filtered
	return res
}

func setDateTimeExtension(res fhir.Resource, url string, t *time.Time) fhir.Resource {
	res = removeExtension(res, url)
	if t != nil {
		v := t.Format(time.RFC3339Nano)
		res.Extension = append(res.Extension, fhir.Extension{URL: url, ValueDateTime: &v})
	}
	return res
}

func setIntegerExtension(res fhir.Resource, url string, i *int) fhir.Resource {
	res = removeExtension(res, url)
	if i != nil {
		v := *i
		res.Extension = append(res.Extension, fhir.Extension{URL: url, ValueInteger: &v})
	}
	return res
}

func setReferenceExtension(res fhir.Resource, url string, ref *fhir.Reference) fhir.Resource {
	res = removeExtension(res, url)
	if ref != nil {
		v := *ref
		res.Extension = append(res.Extension, fhir.Extension{URL: url, ValueReference: &v})
	}
	return res
}
