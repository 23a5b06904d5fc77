package git

var SortTags = sortTags
