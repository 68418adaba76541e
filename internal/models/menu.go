package models

import "sort"

// MenuCategory is one of a fixed set of menu sections
type MenuCategory string

const (
	CategoryDrinks   MenuCategory = "DRINKS"
	CategoryStarters MenuCategory = "STARTERS"
	CategoryMains    MenuCategory = "MAINS"
	CategorySides    MenuCategory = "SIDES"
	CategoryDesserts MenuCategory = "DESSERTS"
	CategoryOther    MenuCategory = "OTHER"
)

// MenuCategoryOrder is the display order of menu sections
var MenuCategoryOrder = []MenuCategory{
	CategoryDrinks,
	CategoryStarters,
	CategoryMains,
	CategorySides,
	CategoryDesserts,
	CategoryOther,
}

// ParseMenuCategory maps a stored category to the enumerated set; unknown values fall into OTHER
func ParseMenuCategory(s string) MenuCategory {
	for _, c := range MenuCategoryOrder {
		if string(c) == s {
			return c
		}
	}
	return CategoryOther
}

// MenuSection is a category with its items in sort order
type MenuSection struct {
	Category MenuCategory `json:"category"`
	Items    []MenuItem   `json:"items"`
}

// GroupMenu groups available items by category in MenuCategoryOrder, skipping empty sections
func GroupMenu(items []MenuItem) []MenuSection {
	byCategory := make(map[MenuCategory][]MenuItem)
	for _, item := range items {
		if !item.IsAvailable {
			continue
		}
		c := ParseMenuCategory(item.Category)
		byCategory[c] = append(byCategory[c], item)
	}

	sections := make([]MenuSection, 0, len(byCategory))
	for _, c := range MenuCategoryOrder {
		list := byCategory[c]
		if len(list) == 0 {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].SortOrder < list[j].SortOrder
		})
		sections = append(sections, MenuSection{Category: c, Items: list})
	}
	return sections
}
