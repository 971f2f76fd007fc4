package fhir

// 通用资源模型（FHIR R4 的最小子集）
// 定位垫的全部状态都存放在单个 Device 资源上：
// - status: 'active' | 'inactive'（inactive = 已废弃，终态）
// - identifier[0].value: 条码
// - type.coding[].code: 设备类型标签
// - extension: 开放的键值扩展列表（生命周期状态）

// RecordStatus 资源记录状态
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Identifier 业务标识（system + value）
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Coding 编码项
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept 可编码概念
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference 资源引用（如 "Patient/123"）
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Extension 扩展项：url + 单个 value[x]
type Extension struct {
	URL            string     `json:"url"`
	ValueDateTime  *string    `json:"valueDateTime,omitempty"`
	ValueInteger   *int       `json:"valueInteger,omitempty"`
	ValueReference *Reference `json:"valueReference,omitempty"`
}

// Resource 通用类型化记录
type Resource struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Status       string          `json:"status,omitempty"`
	Identifier   []Identifier    `json:"identifier,omitempty"`
	Type         *CodeableConcept `json:"type,omitempty"`
	Extension    []Extension     `json:"extension,omitempty"`
}

// HasTypeCode 检查资源类型标签是否包含指定 code
func (r *Resource) HasTypeCode(code string) bool {
	if r.Type == nil {
		return false
	}
	for _, c := range r.Type.Coding {
		if c.Code == code {
			return true
		}
	}
	return false
}

// IdentifierValue 返回指定 system 的标识值；system 为空时返回第一个标识
func (r *Resource) IdentifierValue(system string) string {
	for _, id := range r.Identifier {
		if system == "" || id.System == system {
			return id.Value
		}
	}
	return ""
}

// FindExtension 按 url 查找扩展项；不存在返回 nil
func (r *Resource) FindExtension(url string) *Extension {
	for i := range r.Extension {
		if r.Extension[i].URL == url {
			return &r.Extension[i]
		}
	}
	return nil
}

// Clone 深拷贝资源（存储实现返回副本，避免调用方共享内部状态）
func (r Resource) Clone() Resource {
	cp := r
	if r.Identifier != nil {
		cp.Identifier = make([]Identifier, len(r.Identifier))
		copy(cp.Identifier, r.Identifier)
	}
	if r.Type != nil {
		t := *r.Type
		if r.Type.Coding != nil {
			t.Coding = make([]Coding, len(r.Type.Coding))
			copy(t.Coding, r.Type.Coding)
		}
		cp.Type = &t
	}
	if r.Extension != nil {
		cp.Extension = make([]Extension, len(r.Extension))
		for i, ext := range r.Extension {
			e := ext
			if ext.ValueDateTime != nil {
				v := *ext.ValueDateTime
				e.ValueDateTime = &v
			}
			if ext.ValueInteger != nil {
				v := *ext.ValueInteger
				e.ValueInteger = &v
			}
			if ext.ValueReference != nil {
				v := *ext.ValueReference
				e.ValueReference = &v
			}
			cp.Extension[i] = e
		}
	}
	return cp
}
