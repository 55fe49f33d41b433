package model

import (
	"encoding/json"
	"fmt"
)

// ChangeType discriminates the entries of a profile change journal.
type ChangeType string

const (
	ChangeItemAdded           ChangeType = "itemAdded"
	ChangeItemRemoved         ChangeType = "itemRemoved"
	ChangeItemAttrChanged     ChangeType = "itemAttrChanged"
	ChangeItemQuantityChanged ChangeType = "itemQuantityChanged"
	ChangeStatModified        ChangeType = "statModified"
	ChangeFullProfileUpdate   ChangeType = "fullProfileUpdate"
)

// Change is one journal record. Only the fields relevant to Type are set;
// use the constructors below rather than building it by hand.
type Change struct {
	Type      ChangeType
	ItemID    string
	Item      *Item
	Attribute string
	Name      string
	Value     Value
	Quantity  int64
	Profile   *Profile
}

// ItemAdded records a new item.
func ItemAdded(id string, item *Item) Change {
	return Change{Type: ChangeItemAdded, ItemID: id, Item: item}
}

// ItemRemoved records an item deletion.
func ItemRemoved(id string) Change {
	return Change{Type: ChangeItemRemoved, ItemID: id}
}

// ItemAttrChanged records a single attribute assignment.
func ItemAttrChanged(id, attribute string, value Value) Change {
	return Change{Type: ChangeItemAttrChanged, ItemID: id, Attribute: attribute, Value: value}
}

// ItemQuantityChanged records a quantity assignment.
func ItemQuantityChanged(id string, quantity int64) Change {
	return Change{Type: ChangeItemQuantityChanged, ItemID: id, Quantity: quantity}
}

// StatModified records a stat assignment.
func StatModified(name string, value Value) Change {
	return Change{Type: ChangeStatModified, Name: name, Value: value}
}

// FullProfileUpdate carries an entire profile snapshot.
func FullProfileUpdate(profile *Profile) Change {
	return Change{Type: ChangeFullProfileUpdate, Profile: profile}
}

type itemAddedWire struct {
	ChangeType ChangeType `json:"changeType"`
	ItemID     string     `json:"itemId"`
	Item       *Item      `json:"item"`
}

type itemRemovedWire struct {
	ChangeType ChangeType `json:"changeType"`
	ItemID     string     `json:"itemId"`
}

type itemAttrChangedWire struct {
	ChangeType     ChangeType `json:"changeType"`
	ItemID         string     `json:"itemId"`
	AttributeName  string     `json:"attributeName"`
	AttributeValue Value      `json:"attributeValue"`
}

type itemQuantityChangedWire struct {
	ChangeType ChangeType `json:"changeType"`
	ItemID     string     `json:"itemId"`
	Quantity   int64      `json:"quantity"`
}

type statModifiedWire struct {
	ChangeType ChangeType `json:"changeType"`
	Name       string     `json:"name"`
	Value      Value      `json:"value"`
}

type fullProfileUpdateWire struct {
	ChangeType ChangeType `json:"changeType"`
	Profile    *Profile   `json:"profile"`
}

// MarshalJSON implements json.Marshaler.
func (c Change) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ChangeItemAdded:
		return json.Marshal(itemAddedWire{c.Type, c.ItemID, c.Item})
	case ChangeItemRemoved:
		return json.Marshal(itemRemovedWire{c.Type, c.ItemID})
	case ChangeItemAttrChanged:
		return json.Marshal(itemAttrChangedWire{c.Type, c.ItemID, c.Attribute, c.Value})
	case ChangeItemQuantityChanged:
		return json.Marshal(itemQuantityChangedWire{c.Type, c.ItemID, c.Quantity})
	case ChangeStatModified:
		return json.Marshal(statModifiedWire{c.Type, c.Name, c.Value})
	case ChangeFullProfileUpdate:
		return json.Marshal(fullProfileUpdateWire{c.Type, c.Profile})
	}
	return nil, fmt.Errorf("unknown change type %q", c.Type)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Change) UnmarshalJSON(data []byte) error {
	var head struct {
		ChangeType ChangeType `json:"changeType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch head.ChangeType {
	case ChangeItemAdded:
		var w itemAddedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = ItemAdded(w.ItemID, w.Item)
	case ChangeItemRemoved:
		var w itemRemovedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = ItemRemoved(w.ItemID)
	case ChangeItemAttrChanged:
		var w itemAttrChangedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = ItemAttrChanged(w.ItemID, w.AttributeName, w.AttributeValue)
	case ChangeItemQuantityChanged:
		var w itemQuantityChangedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = ItemQuantityChanged(w.ItemID, w.Quantity)
	case ChangeStatModified:
		var w statModifiedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = StatModified(w.Name, w.Value)
	case ChangeFullProfileUpdate:
		var w fullProfileUpdateWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = FullProfileUpdate(w.Profile)
	default:
		return fmt.Errorf("unknown change type %q", head.ChangeType)
	}
	return nil
}
