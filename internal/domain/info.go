package domain

import (
	"fmt"
	"strings"
)

// TaxpayerInfo is the header of the ledger: who declares, where, and for which period.
// JSON keys match the records written by earlier versions of the form.
type TaxpayerInfo struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	TaxID    string `json:"taxId"`
	Location string `json:"location"`
	Period   string `json:"period"`
}

// InfoField names one field of TaxpayerInfo.
type InfoField string

const (
	FieldName     InfoField = "name"
	FieldAddress  InfoField = "address"
	FieldTaxID    InfoField = "taxId"
	FieldLocation InfoField = "location"
	FieldPeriod   InfoField = "period"
)

// InfoFields lists the header fields in form order.
var InfoFields = []InfoField{FieldName, FieldTaxID, FieldAddress, FieldLocation, FieldPeriod}

var infoLabels = map[InfoField]string{
	FieldName:     "Họ tên HKD",
	FieldTaxID:    "Mã số thuế",
	FieldAddress:  "Địa chỉ cư trú",
	FieldLocation: "Địa điểm KD",
	FieldPeriod:   "Kỳ kê khai",
}

// ParseInfoField validates a field name coming from a request or a voice target key.
func ParseInfoField(s string) (InfoField, error) {
	f := InfoField(strings.TrimSpace(s))
	if _, ok := infoLabels[f]; !ok {
		return "", fmt.Errorf("unknown info field %q", s)
	}
	return f, nil
}

// Label returns the Vietnamese form label of the field.
func (f InfoField) Label() string {
	if l, ok := infoLabels[f]; ok {
		return l
	}
	return string(f)
}

// Get returns the value of field f.
func (i TaxpayerInfo) Get(f InfoField) string {
	switch f {
	case FieldName:
		return i.Name
	case FieldAddress:
		return i.Address
	case FieldTaxID:
		return i.TaxID
	case FieldLocation:
		return i.Location
	case FieldPeriod:
		return i.Period
	}
	return ""
}

// Set assigns value to field f. It reports false for an unknown field.
func (i *TaxpayerInfo) Set(f InfoField, value string) bool {
	switch f {
	case FieldName:
		i.Name = value
	case FieldAddress:
		i.Address = value
	case FieldTaxID:
		i.TaxID = value
	case FieldLocation:
		i.Location = value
	case FieldPeriod:
		i.Period = value
	default:
		return false
	}
	return true
}
