package risk

// ClusteringCoefficient measures how interconnected the traced fund-flow
// graph is. T counts ordered neighbor pairs (n1, n2) of some address where n2
// is itself a neighbor of n1; P counts unordered neighbor pairs over all
// addresses with at least two neighbors. Returns T/P, or 0 when no address
// has two neighbors. Values near 1 indicate the dense interlinking typical of
// mixing services.
func ClusteringCoefficient(adjacency map[string]map[string]bool) float64 {
	if len(adjacency) == 0 {
		return 0
	}

	var triangles, possible int
	for _, neighbors := range adjacency {
		if len(neighbors) < 2 {
			continue
		}
		n := len(neighbors)
		possible += n * (n - 1) / 2

		for n1 := range neighbors {
			for n2 := range neighbors {
				if n1 == n2 {
					continue
				}
				if adjacency[n1][n2] {
					triangles++
				}
			}
		}
	}
	if possible == 0 {
		return 0
	}
	return float64(triangles) / float64(possible)
}
