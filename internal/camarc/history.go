package camarc

import "fmt"

// GetHistory returns the most recent archive jobs, newest first.
func (s *CamarcService) GetHistory(limit int) ([]*ArchiveJobRecord, error) {
	jobs, err := s.database.ListArchiveJobs(limit)
	if err != nil {
		return nil, fmt.Errorf("listing archive jobs: %w", err)
	}
	return jobs, nil
}
